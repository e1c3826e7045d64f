package backup

import (
	"bytes"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func readAll(r io.Reader) ([]byte, error) { return io.ReadAll(r) }

// s3StorageClass maps our logical hint onto an S3 storage class; backup
// archives are infrequently accessed by nature (§4.5 step 5).
func s3StorageClass(hint string) types.StorageClass {
	if hint == "" {
		return types.StorageClassStandardIa
	}
	return types.StorageClass(hint)
}
