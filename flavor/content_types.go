package flavor

// Content types of the Black Duck upload API.
const (
	ContentTypeMultipartUploadStart       = "application/vnd.blackducksoftware.multipart-upload-start-1+json"
	ContentTypeBinaryMultipartUploadStart = "application/vnd.blackducksoftware.binary-multipart-upload-start-1+json"
	ContentTypeMultipartUploadData        = "application/vnd.blackducksoftware.multipart-upload-data-1+octet-stream"
	ContentTypeMultipartUploadFinish      = "application/vnd.blackducksoftware.multipart-upload-finish-1+json"
	ContentTypeContainerScanData          = "application/vnd.blackducksoftware.container-scan-data-1+octet-stream"
	ContentTypeBDBAScanData               = "application/vnd.blackducksoftware.bdba-scan-data-1+octet-stream"
	ContentTypeXML                        = "application/xml"
)

const (
	headerContentType   = "Content-Type"
	headerContentDigest = "Content-Digest"
	headerContentRange  = "Content-Range"
	headerLocation      = "Location"
	headerETag          = "ETag"
)
