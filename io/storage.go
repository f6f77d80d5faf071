package io

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme returns the storage scheme of a table URI; bare paths are "file".
func Scheme(uri string) string {
	if !IsAbsoluteURI(uri) {
		return "file"
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// NewFileIO selects a backend for uri and configures it from storage
// options. Keys follow the delta-rs / object_store spelling, for example
// aws_region, aws_access_key_id, azure_storage_account_name,
// google_service_account. Unknown keys
// are ignored.
func NewFileIO(ctx context.Context, uri string, options map[string]string) (FileIO, error) {
	switch Scheme(uri) {
	case "file":
		return NewLocalFileIO(), nil
	case "s3", "s3a":
		cfg, err := S3ConfigFromOptions(options)
		if err != nil {
			return nil, err
		}
		return NewS3FileIO(ctx, cfg)
	case "az", "azure", "abfs", "abfss":
		cfg, err := AzureConfigFromOptions(uri, options)
		if err != nil {
			return nil, err
		}
		return NewAzureFileIO(ctx, cfg)
	case "gs":
		if _, err := parseGCSURI(uri); err != nil {
			return nil, err
		}
		return NewGCSFileIO(ctx, GCSConfigFromOptions(options))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, Scheme(uri))
	}
}

// lookup returns the first non-empty option among keys, matched
// case-insensitively.
func lookup(options map[string]string, keys ...string) string {
	for _, key := range keys {
		for k, v := range options {
			if strings.EqualFold(k, key) && v != "" {
				return v
			}
		}
	}
	return ""
}

// S3ConfigFromOptions builds an S3Config from storage options.
func S3ConfigFromOptions(options map[string]string) (*S3Config, error) {
	cfg := &S3Config{
		Region:          lookup(options, "aws_region", "region", "aws_default_region"),
		AccessKeyID:     lookup(options, "aws_access_key_id", "access_key_id"),
		SecretAccessKey: lookup(options, "aws_secret_access_key", "secret_access_key"),
		SessionToken:    lookup(options, "aws_session_token", "session_token", "token"),
		Endpoint:        lookup(options, "aws_endpoint", "aws_endpoint_url", "endpoint", "endpoint_url"),
	}
	if v := lookup(options, "aws_force_path_style", "force_path_style", "virtual_hosted_style_request"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean for aws_force_path_style: %q", v)
		}
		// virtual_hosted_style_request has the opposite meaning
		if lookup(options, "aws_force_path_style", "force_path_style") == "" {
			b = !b
		}
		cfg.ForcePathStyle = b
	}
	return cfg, nil
}

// AzureConfigFromOptions builds an AzureConfig from storage options. The
// account may also come from an abfs[s] URI host.
func AzureConfigFromOptions(uri string, options map[string]string) (*AzureConfig, error) {
	loc, err := parseAzureURI(uri)
	if err != nil {
		return nil, err
	}
	cfg := &AzureConfig{
		AccountName: lookup(options, "azure_storage_account_name", "account_name"),
		AccountKey:  lookup(options, "azure_storage_account_key", "azure_storage_access_key", "account_key", "access_key"),
		SASToken:    lookup(options, "azure_storage_sas_token", "azure_storage_sas_key", "sas_token", "sas_key"),
		Endpoint:    lookup(options, "azure_storage_endpoint", "endpoint"),
	}
	if cfg.AccountName == "" {
		cfg.AccountName = loc.account
	}
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure_storage_account_name is required for %s", uri)
	}
	return cfg, nil
}

// GCSConfigFromOptions builds a GCSConfig from storage options.
func GCSConfigFromOptions(options map[string]string) *GCSConfig {
	return &GCSConfig{
		CredentialsFile: lookup(options, "google_service_account", "google_service_account_path",
			"google_application_credentials", "service_account", "service_account_path"),
		CredentialsJSON: lookup(options, "google_service_account_key", "service_account_key"),
	}
}
