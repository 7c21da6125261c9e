package constants

import "fmt"

// Request errors returned by the ledger endpoints
const (
	ErrUserIDRequired          = "user_id is required"
	ErrMethodNotAllowed        = "Method Not Allowed"
	ErrFailedToParseMultipart  = "Failed to parse multipart form"
	ErrFileRequired            = "A spreadsheet must be uploaded in the 'file' field"
	ErrUnsupportedFileType     = "Unsupported file type. Upload .xlsx, .xls or .csv"
	ErrFileUnreadable          = "The uploaded file could not be read"
	ErrFileTooLarge            = "The uploaded file is larger than the upload limit"
	ErrInvalidPeriodID         = "period_id must be a positive whole number"
	ErrInvalidTerm             = "term must be a positive whole number"
	ErrInvalidHeaderRows       = "header_rows must be zero or a positive whole number"
	ErrBatchFailedUnexpectedly = "The batch could not be completed. Nothing was saved; please try again"
	ErrArchiveFailed           = "The original file could not be archived"
	ErrChecksumMismatch        = "The uploaded file does not match the sha256 sent with it"
)

// FormatInvalidField builds the message for a malformed form field.
func FormatInvalidField(field, value string) string {
	return fmt.Sprintf("invalid value %q for %s", value, field)
}
