package cache

import "errors"

var (
	// ErrInvalidPath 表示路径越出 CacheRoot 沙箱，属于调用方/输入错误，不会被内部重试。
	ErrInvalidPath = errors.New("invalid cache path")
	// ErrUnknownFileType 表示既无法从 URL 后缀也无法从 Content-Type 推断出图片类型。
	ErrUnknownFileType = errors.New("unable to determine remote image file type")
	// ErrAlreadyExists 表示 clobber=false 时目标文件已存在。
	ErrAlreadyExists = errors.New("cache entry already exists")
	// ErrNetworkFailure 包装下载过程中的传输错误或非 2xx 响应。
	ErrNetworkFailure = errors.New("download failed")
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrPermanentPrune 拒绝对 permanent 命名空间执行淘汰。
	ErrPermanentPrune = errors.New("permanent namespace is never pruned")
)

// ErrUnknownNamespace 表示命名空间不是 permanent/cache 之一。
var ErrUnknownNamespace = errors.New("unknown cache namespace")
