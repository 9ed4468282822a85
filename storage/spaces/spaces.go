package spaces

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DMarby/imageservice-client/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const (
	allUsersURI     = "http://acs.amazonaws.com/groups/global/AllUsers"
	aclPublicRead   = "public-read"
	aclPrivate      = "private"
	errCodeNotFound = "NotFound" // HEAD requests carry no error body
)

// Provider implements a digitalocean spaces (or any s3 compatible) object storage
type Provider struct {
	spaces    s3iface.S3API
	space     string
	publicURL string
}

// New returns a new Provider instance.
// publicURL is the base of the URLs handed out for public objects, it defaults to a path-style URL on endpoint.
func New(space, endpoint, region, accessKey, secretKey, publicURL string, forcePathStyle bool) (*Provider, error) {
	if space == "" {
		return nil, fmt.Errorf("no space given")
	}

	if region == "" {
		// Needs to be us-east-1 for Spaces, or it'll fail
		region = "us-east-1"
	}

	spacesSession, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(forcePathStyle),
	})
	if err != nil {
		return nil, err
	}

	if publicURL == "" {
		publicURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(endpoint, "/"), space)
	}

	return NewWithClient(s3.New(spacesSession), space, publicURL), nil
}

// NewWithClient returns a Provider using an existing s3 client
func NewWithClient(client s3iface.S3API, space, publicURL string) *Provider {
	return &Provider{
		spaces:    client,
		space:     space,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func acl(visibility storage.Visibility) string {
	if visibility == storage.Private {
		return aclPrivate
	}
	return aclPublicRead
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, errCodeNotFound:
			return true
		}
	}
	return false
}

// Put uploads an object with the ACL matching visibility
func (p *Provider) Put(ctx context.Context, key string, r io.Reader, visibility storage.Visibility) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	contentType, err := detectContentType(body)
	if err != nil {
		return err
	}

	_, err = p.spaces.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      &p.space,
		Key:         aws.String(key),
		Body:        body,
		ACL:         aws.String(acl(visibility)),
		ContentType: aws.String(contentType),
	})
	return err
}

// detectContentType sniffs the content type and rewinds the reader
func detectContentType(r io.ReadSeeker) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return http.DetectContentType(buf[:n]), nil
}

// Get returns the object data for a key
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := p.spaces.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &p.space,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}
	defer output.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, output.Body); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Stat returns the size and visibility of an object
func (p *Provider) Stat(ctx context.Context, key string) (*storage.Object, error) {
	head, err := p.spaces.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &p.space,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	acl, err := p.spaces.GetObjectAclWithContext(ctx, &s3.GetObjectAclInput{
		Bucket: &p.space,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	visibility := storage.Private
	for _, grant := range acl.Grants {
		if grant.Grantee == nil || aws.StringValue(grant.Grantee.URI) != allUsersURI {
			continue
		}

		switch aws.StringValue(grant.Permission) {
		case s3.PermissionRead, s3.PermissionFullControl:
			visibility = storage.Public
		}
	}

	return &storage.Object{
		Key:        key,
		Size:       uint64(aws.Int64Value(head.ContentLength)),
		Visibility: visibility,
	}, nil
}

// SetVisibility changes the ACL of an object
func (p *Provider) SetVisibility(ctx context.Context, key string, visibility storage.Visibility) error {
	_, err := p.spaces.PutObjectAclWithContext(ctx, &s3.PutObjectAclInput{
		Bucket: &p.space,
		Key:    aws.String(key),
		ACL:    aws.String(acl(visibility)),
	})
	if err != nil && isNotFound(err) {
		return storage.ErrNotFound
	}

	return err
}

// Delete removes an object
func (p *Provider) Delete(ctx context.Context, key string) error {
	_, err := p.spaces.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &p.space,
		Key:    aws.String(key),
	})
	if err != nil && isNotFound(err) {
		return storage.ErrNotFound
	}

	return err
}

// URL returns the public URL of an object
func (p *Provider) URL(key string) string {
	u := url.URL{Path: "/" + key}
	return p.publicURL + u.EscapedPath()
}
