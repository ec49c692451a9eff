// Package storage uploads profile images to S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"chat-sync/internal/apperr"
)

const (
	MaxAvatarSize = 5 * 1024 * 1024
	AvatarSide    = 256
)

var allowedMimeTypes = []string{"image/jpeg", "image/png", "image/gif"}

var (
	ErrAvatarTooLarge    = apperr.InvalidArg("avatar exceeds 5 MB")
	ErrAvatarUnsupported = apperr.InvalidArg("avatar must be a JPEG, PNG or GIF image")
)

// ObjectPutter is the part of the S3 client the store uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client from static credentials, or from the default
// chain when keyID is empty.
func NewS3Client(ctx context.Context, region, keyID, secret string) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if keyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// AvatarStore normalises uploaded images and stores them at avatars/<user id>.jpg.
type AvatarStore struct {
	client  ObjectPutter
	bucket  string
	region  string
	baseURL string
}

// NewAvatarStore builds a store. baseURL overrides the default bucket URL, e.g. for a CDN.
func NewAvatarStore(client ObjectPutter, bucket, region, baseURL string) *AvatarStore {
	return &AvatarStore{
		client:  client,
		bucket:  bucket,
		region:  region,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload validates, crops to a square and re-encodes the image, then returns its public URL.
func (s *AvatarStore) Upload(ctx context.Context, userID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(data) > MaxAvatarSize {
		return "", ErrAvatarTooLarge
	}
	if !isAllowed(data) {
		return "", ErrAvatarUnsupported
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", ErrAvatarUnsupported
	}
	square := imaging.Fill(img, AvatarSide, AvatarSide, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, square, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	key := AvatarKey(userID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(buf.Bytes()),
		ContentType:  aws.String("image/jpeg"),
		CacheControl: aws.String("public, max-age=300"),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", apperr.WriteFailed("upload avatar", err)
	}
	return s.URL(key), nil
}

// URL is the public address of key.
func (s *AvatarStore) URL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func AvatarKey(userID string) string {
	return "avatars/" + userID + ".jpg"
}

func isAllowed(data []byte) bool {
	detected := mimetype.Detect(data)
	for _, m := range allowedMimeTypes {
		if detected.Is(m) {
			return true
		}
	}
	return false
}
