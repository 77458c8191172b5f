package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// writeS3 renders write's output into memory and uploads it to an
// "s3://bucket/key" URI via s3manager.Uploader, using the standard
// shared-config AWS credential chain.
func writeS3(ctx context.Context, uri string, write func(io.Writer) error) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("workflow: parsing s3 output uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return fmt.Errorf("workflow: not an s3 uri: %q", uri)
	}

	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}

	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return fmt.Errorf("workflow: creating aws session: %w", err)
	}
	uploader := s3manager.NewUploader(sess)
	key := u.Path
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: &u.Host,
		Key:    &key,
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("workflow: uploading %q to s3: %w", uri, err)
	}
	return nil
}
