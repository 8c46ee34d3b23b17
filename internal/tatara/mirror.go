package tatara

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// The mirror holds prebuilt dependency tarballs: the compiled extract tree
// of a target, packed as <name>-<version>-<arch>.tar.zst. When configured,
// the pipeline checks it before compiling from source; the upload command
// publishes local builds to it.

// tryPrebuilt downloads and unpacks a prebuilt tarball for the target.
// Returns true when the target is now Built; any failure just means we fall
// back to building from source.
func (p *Pipeline) tryPrebuilt(t *Target) bool {
	name := prebuiltName(t)
	url := fmt.Sprintf("%s/%s", p.ws.Mirror, name)
	destPath := filepath.Join(p.ws.BinDir, name)

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Checking mirror for prebuilt: %s\n", name)
	}

	if _, err := os.Stat(destPath); err != nil {
		// Quiet download so a 404 during the check doesn't corrupt output.
		if err := downloadFileQuiet(url, destPath); err != nil {
			os.Remove(destPath)
			debugf("No prebuilt %s on mirror: %v\n", name, err)
			return false
		}
	}

	dest := p.ws.extractDir(t)
	if err := removeTree(dest); err != nil {
		debugf("Failed to clear %s for prebuilt unpack: %v\n", dest, err)
		return false
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return false
	}
	if err := unpackPrebuiltTarball(destPath, dest); err != nil {
		cPrintf(colWarn, "Prebuilt %s is unusable (%v), building from source\n", name, err)
		_ = removeTree(dest)
		_ = os.Remove(destPath)
		return false
	}

	// The tarball was packed from a Built tree, so it already carries both
	// stamps; tolerate older tarballs that don't.
	if !stampPresent(filepath.Join(dest, builtStamp)) {
		if err := writeStamp(filepath.Join(dest, builtStamp), t); err != nil {
			return false
		}
	}

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Using prebuilt %s\n", name)
	}
	return true
}

// R2Client wraps the S3 client for Cloudflare R2.
type R2Client struct {
	Client     *s3.Client
	BucketName string
}

// NewR2Client initializes a new R2 client using configuration values.
func NewR2Client(cfg *Config) (*R2Client, error) {
	accountID := cfg.Values["R2_ACCOUNT_ID"]
	accessKey := cfg.Values["R2_ACCESS_KEY_ID"]
	secretKey := cfg.Values["R2_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["R2_BUCKET_NAME"]

	if accountID == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("R2 credentials missing in configuration (R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &R2Client{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// UploadLocalFile uploads a file from disk to R2.
func (r *R2Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".zst") {
		contentType = "application/zstd"
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}

// ListObjects returns the keys in the bucket with the given prefix.
func (r *R2Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(r.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}
