// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Vault-injected AWS credential files used on Kubernetes deployments.
const (
	DefaultAWSKeyFile  = "/vault/secrets/awsaccesskey"
	DefaultAWSPassFile = "/vault/secrets/awssecretkey"

	// DBPasswordEnv bypasses Secrets Manager lookups (local runs, tests).
	// When set (even to an empty string), ResolveDBPassword returns the value directly.
	DBPasswordEnv = "POSTEXPORT_DB_PASSWORD_OVERRIDE" //nolint:gosec // env var name, not a credential
)

// LoadAWSCredentials loads AWS IAM credentials with the following priority:
// 1. Explicit values (accessKeyID, secretAccessKey, sessionToken)
// 2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN)
// 3. AWS SDK default chain (shared config, SSO cache, IAM roles)
// 4. Vault files - fallback
//
// Environment variables are only set when explicit values are given or the
// vault files exist, so the SDK default chain stays usable otherwise.
func LoadAWSCredentials(accessKeyID, secretAccessKey, sessionToken string) {
	if accessKeyID != "" && secretAccessKey != "" {
		_ = os.Setenv("AWS_ACCESS_KEY_ID", accessKeyID)
		_ = os.Setenv("AWS_SECRET_ACCESS_KEY", secretAccessKey)
		if sessionToken != "" {
			_ = os.Setenv("AWS_SESSION_TOKEN", sessionToken)
		}
		return
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		if content, err := os.ReadFile(DefaultAWSKeyFile); err == nil {
			_ = os.Setenv("AWS_ACCESS_KEY_ID", strings.TrimSpace(string(content)))
		}
	}

	if os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		if content, err := os.ReadFile(DefaultAWSPassFile); err == nil {
			_ = os.Setenv("AWS_SECRET_ACCESS_KEY", strings.TrimSpace(string(content)))
		}
	}
}

// GetPasswordFromSecretsManager retrieves the database password from AWS Secrets Manager.
// The secret JSON is expected to contain a "password" field.
func GetPasswordFromSecretsManager(ctx context.Context, secretName, region string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return "", fmt.Errorf("create AWS config: %w", err)
	}

	svc := secretsmanager.NewFromConfig(awsCfg)
	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}

	return parseSecretPassword(secretName, *out.SecretString)
}

func parseSecretPassword(secretName, secret string) (string, error) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(secret), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.Password == "" {
		return "", fmt.Errorf("password field empty in secret %s", secretName)
	}
	return payload.Password, nil
}

// ResolveDBPassword returns the WordPress DB password. If DBPasswordEnv is set
// (even to an empty string), that value is returned. Otherwise, the password is
// fetched from AWS Secrets Manager using the provided secret and region.
func ResolveDBPassword(ctx context.Context, secretName, region string) (string, error) {
	if pwd, ok := os.LookupEnv(DBPasswordEnv); ok {
		return pwd, nil
	}
	return GetPasswordFromSecretsManager(ctx, secretName, region)
}
