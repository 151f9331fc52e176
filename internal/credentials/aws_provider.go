package credentials

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ErrNoStaticKeys is returned by S3Keys.Retrieve when the config holds no keys.
var ErrNoStaticKeys = errors.New("no static S3 access keys configured")

// KeySource supplies an S3 access key pair, read at retrieve time.
type KeySource interface {
	S3Keys() (accessKeyID, secretAccessKey string)
}

// S3Keys implements aws.CredentialsProvider over a KeySource so that keys
// edited in the config file are picked up the next time the SDK retrieves.
//
// Usage:
//
//	cache := aws.NewCredentialsCache(credentials.S3Keys{Source: store})
//	cfg, _ := config.LoadDefaultConfig(ctx, config.WithCredentialsProvider(cache))
type S3Keys struct {
	Source KeySource
}

// Retrieve implements aws.CredentialsProvider.
func (p S3Keys) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if p.Source == nil {
		return aws.Credentials{}, ErrNoStaticKeys
	}
	id, secret := p.Source.S3Keys()
	if id == "" || secret == "" {
		return aws.Credentials{}, ErrNoStaticKeys
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		Source:          "hfbackup-config",
	}, nil
}
