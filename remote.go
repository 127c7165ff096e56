package duckling

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// locationScheme is the kind of storage location passed to Open.
type locationScheme string

const (
	schemeLocal locationScheme = "local"
	schemeFile  locationScheme = "file"
	schemeS3    locationScheme = "s3"
	schemeHTTP  locationScheme = "http"
	schemeHTTPS locationScheme = "https"
)

func detectScheme(location string) locationScheme {
	lower := strings.ToLower(location)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return schemeS3
	case strings.HasPrefix(lower, "https://"):
		return schemeHTTPS
	case strings.HasPrefix(lower, "http://"):
		return schemeHTTP
	case strings.HasPrefix(lower, "file://"):
		return schemeFile
	default:
		return schemeLocal
	}
}

func (s locationScheme) remote() bool {
	return s == schemeS3 || s == schemeHTTP || s == schemeHTTPS
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(location string) (bucket, key string, err error) {
	rest := location[len("s3://"):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 URL: %s", location)
	}
	return parts[0], parts[1], nil
}

// resolveLocation turns a storage location into a path DuckDB can open.
// Remote objects are downloaded into the cache directory first; cached is
// the file to remove once the Database closes, empty for local paths.
func resolveLocation(ctx context.Context, location string, cfg *Config) (path, cached string, err error) {
	scheme := detectScheme(location)
	switch scheme {
	case schemeLocal:
		return location, "", nil
	case schemeFile:
		return location[len("file://"):], "", nil
	}

	var remote RemoteConfig
	if cfg != nil {
		remote = cfg.Remote
	}

	var body io.ReadCloser
	switch scheme {
	case schemeS3:
		body, err = openS3Reader(ctx, location, remote)
	default:
		body, err = openHTTPReader(ctx, location)
	}
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	f, err := os.CreateTemp(remote.CacheDir, "duckling-*"+filepath.Ext(location))
	if err != nil {
		return "", "", fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", fmt.Errorf("downloading %s: %w", location, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", fmt.Errorf("writing cache file: %w", err)
	}

	logger().Debug("fetched remote database", "location", location, "cache", f.Name())
	return f.Name(), f.Name(), nil
}

func openHTTPReader(ctx context.Context, url string) (io.ReadCloser, error) {
	client := &http.Client{
		Timeout: 5 * time.Minute,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building HTTP request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func newS3Client(ctx context.Context, cfg RemoteConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else if cfg.UsePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

func openS3Reader(ctx context.Context, location string, cfg RemoteConfig) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(location)
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting S3 object: %w", err)
	}

	return resp.Body, nil
}
