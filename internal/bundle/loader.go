package bundle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// ParamGetter is the subset of the SSM API the loader uses.
type ParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ObjectGetter is the subset of the S3 API the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the sha256 of the active release
	SSMParam string

	// Releases live at s3://{bucket}/{prefix}/{hash}.tar.gz with an optional
	// detached signature at {hash}.tar.gz.sig
	S3Bucket string
	S3Prefix string

	// SigningKeyARN enables signature verification with a KMS key.
	SigningKeyARN string

	// Required lists files every release must contain.
	Required []string

	// Clients override the ones built from AWSConfig; set by tests.
	SSMClient ParamGetter
	S3Client  ObjectGetter
	Verifier  cryptoutil.Verifier

	// AWS config (default chain if nil)
	AWSConfig *aws.Config
}

type Loader struct {
	opts     LoaderOptions
	ssm      ParamGetter
	s3       ObjectGetter
	verifier cryptoutil.Verifier
	logger   log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	l := &Loader{
		opts:     opts,
		ssm:      opts.SSMClient,
		s3:       opts.S3Client,
		verifier: opts.Verifier,
		logger:   opts.Logger,
	}

	needAWS := l.ssm == nil || l.s3 == nil || (l.verifier == nil && opts.SigningKeyARN != "")
	if !needAWS {
		return l, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if l.ssm == nil {
		l.ssm = ssm.NewFromConfig(awsCfg)
	}
	if l.s3 == nil {
		l.s3 = s3.NewFromConfig(awsCfg)
	}
	if l.verifier == nil && opts.SigningKeyARN != "" {
		l.verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), opts.SigningKeyARN)
	}
	return l, nil
}

// FetchCurrentHash reads the active release hash from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !cryptoutil.ValidSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) s3Key(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return fmt.Sprintf("%s/%s.tar.gz", p, hash)
	}
	return hash + ".tar.gz"
}

func (l *Loader) get(ctx context.Context, key string, maxSize int64) ([]byte, string, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, sum, err := readWithHash(out.Body, maxSize)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	return data, sum, nil
}

// LoadHash downloads, verifies and extracts the release with the given hash.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	key := l.s3Key(hash)
	l.logger.Info(ctx, "downloading client bundle",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", cryptoutil.ShortHash(hash),
	)

	data, actual, err := l.get(ctx, key, maxBundleSize)
	if err != nil {
		return nil, err
	}
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	if l.verifier != nil {
		sig, _, err := l.get(ctx, key+".sig", maxSignatureSize)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch bundle signature")
		}
		if err := l.verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify bundle signature for %s", cryptoutil.ShortHash(hash))
		}
	}

	fsys, err := extractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}
	version, err := readVersion(fsys)
	if err != nil {
		l.logger.Warn(ctx, "client bundle release.json unreadable, continuing without version",
			"hash", cryptoutil.ShortHash(hash),
			"err", err.Error(),
		)
	}

	snap := &Snapshot{
		FS:       fsys,
		Hash:     hash,
		Version:  version,
		Source:   SourceS3,
		LoadedAt: time.Now().UTC(),
	}
	if err := Validate(snap, l.opts.Required); err != nil {
		return nil, err
	}

	l.logger.Info(ctx, "loaded client bundle",
		"hash", cryptoutil.ShortHash(hash),
		"version", version,
		"bytes", len(data),
		"signed", l.verifier != nil,
	)
	return snap, nil
}

// Load fetches the release SSM currently points at.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}
