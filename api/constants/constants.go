package constants

// Form and query keys
const (
	KeyUserID     = "user_id"
	KeyPeriodID   = "period_id"
	KeyBatchLabel = "batch_label"
	KeyTerm       = "term"
	KeyMode       = "mode"
	KeyKind       = "kind"
	KeyHeaderRows = "header_rows"
	KeyFile       = "file"
	KeyColumns    = "columns"
	KeyChecksum   = "sha256"
)

// Headers and content types
const (
	HeaderContentType              = "Content-Type"
	HeaderAccessControlAllowOrigin = "Access-Control-Allow-Origin"
	ContentTypeJSON                = "application/json"
)
