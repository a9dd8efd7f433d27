package i18n

var ALLOW_LANG = map[string]bool{
	"en":    true,
	"zh-CN": true,
}

const DEFAULT_LANG = "en"

const (
	ERROR_INTERNAL          = "error.internal"
	ERROR_NOT_FOUND         = "error.notfound"
	ERROR_INVALIDARGUMENT   = "error.invalidargument"
	ERROR_PERMISSION_DENIED = "error.permission.denied"
	ERROR_UNAUTHORIZED      = "error.unauthorized"
	ERROR_EXIST             = "error.exist"
	ERROR_TOO_MANY_REQUESTS = "error.tooManyRequests"

	ERROR_SHARE_INVALID_TOKEN = "error.share.invalid_token"
	ERROR_SHARE_EXPIRED       = "error.share.expired"
	ERROR_SHARE_CONSUMED      = "error.share.consumed"
	ERROR_SHARE_SCOPE_DENIED  = "error.share.scope.denied"
)
