package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the execution report archive. An empty endpoint
// disables archiving.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:     true,
		BucketName: "pathrunner-reports",
		Region:     "us-east-1",
	}
}

// Enabled reports whether an endpoint has been configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name is required when --s3.endpoint is set"))
	}
	if o.AccessKeyID == "" || o.SecretAccessKey == "" {
		errs = append(errs, errors.New("--s3.access-key-id and --s3.secret-access-key are required when --s3.endpoint is set"))
	}

	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local). Empty disables report archiving.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for execution reports")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
}
