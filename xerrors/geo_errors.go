package xerrors

var (
	// ErrMissingCoordinate 参与计算的坐标点缺失。
	ErrMissingCoordinate = New(ErrInvalidArg, 400101, "illegal coordinate value", "both points must be present", nil)
	// ErrArithmeticFault 三角运算的参数越界。
	ErrArithmeticFault = New(ErrInternal, 500101, "arithmetic fault", "asin argument outside [-1, 1]", nil)
	// ErrInvalidDMS 度分秒字符串无法解析。
	ErrInvalidDMS = New(ErrInvalidArg, 400102, "invalid degree value", "expected a decimal number", nil)
	// ErrInvalidClusterSize 聚合像素范围必须为正。
	ErrInvalidClusterSize = New(ErrInvalidArg, 400103, "invalid cluster size", "cluster size must be positive", nil)
	// ErrCacheMiss 缓存未命中。
	ErrCacheMiss = New(ErrNotFound, 404101, "cache miss", "", nil)
)
