package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"CoopLedger/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestPutUsesFingerprintKey(t *testing.T) {
	fake := &fakeS3{}
	a := &S3Archive{client: fake, bucket: "uploads", prefix: "ledger/", baseURL: "https://uploads.example/"}

	url, err := a.Put(context.Background(), models.RunContributionImport, 7, "Jan Deductions.XLSX", "abc123", []byte("PK\x03\x04"))
	require.NoError(t, err)
	assert.Equal(t, "https://uploads.example/ledger/contribution_import/7/abc123.xlsx", url)
	assert.Equal(t, "uploads", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "Jan_Deductions.XLSX", fake.in.Metadata["original-name"])
	assert.Equal(t, []byte("PK\x03\x04"), fake.body)
}

func TestPutReportsFailure(t *testing.T) {
	a := &S3Archive{client: &fakeS3{err: errors.New("access denied")}, bucket: "uploads"}
	_, err := a.Put(context.Background(), models.RunLoanPosting, 1, "loans.csv", "h", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestKeyWithoutExtension(t *testing.T) {
	a := &S3Archive{prefix: "p/"}
	assert.Equal(t, "p/loan_posting/2/unknown.bin", a.Key(models.RunLoanPosting, 2, "upload", " "))
}
