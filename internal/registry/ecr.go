package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

// ECRAPI is the subset of the ECR service client used by ECRClient
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	SetRepositoryPolicy(ctx context.Context, params *ecr.SetRepositoryPolicyInput, optFns ...func(*ecr.Options)) (*ecr.SetRepositoryPolicyOutput, error)
	GetRepositoryPolicy(ctx context.Context, params *ecr.GetRepositoryPolicyInput, optFns ...func(*ecr.Options)) (*ecr.GetRepositoryPolicyOutput, error)
	PutLifecyclePolicy(ctx context.Context, params *ecr.PutLifecyclePolicyInput, optFns ...func(*ecr.Options)) (*ecr.PutLifecyclePolicyOutput, error)
	GetLifecyclePolicy(ctx context.Context, params *ecr.GetLifecyclePolicyInput, optFns ...func(*ecr.Options)) (*ecr.GetLifecyclePolicyOutput, error)
	DeleteLifecyclePolicy(ctx context.Context, params *ecr.DeleteLifecyclePolicyInput, optFns ...func(*ecr.Options)) (*ecr.DeleteLifecyclePolicyOutput, error)
	PutImageScanningConfiguration(ctx context.Context, params *ecr.PutImageScanningConfigurationInput, optFns ...func(*ecr.Options)) (*ecr.PutImageScanningConfigurationOutput, error)
}

// ECRClient implements Client, ScanConfigurer and StateReader for Amazon ECR
type ECRClient struct {
	api    ECRAPI
	region string
}

// NewECRClient creates an ECR client using the default AWS credential chain.
// SDK-level retries are disabled; retries are configured with WithRetry.
func NewECRClient(ctx context.Context, cfg Config) (*ECRClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, errors.New("no AWS region configured (set registry.region or AWS_REGION)")
	}

	api := ecr.NewFromConfig(awsCfg, func(o *ecr.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Debug().
		Str("region", awsCfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("ECR client configured")

	return &ECRClient{api: api, region: awsCfg.Region}, nil
}

// NewECRClientFromAPI wraps an existing ECR API implementation
func NewECRClientFromAPI(api ECRAPI, region string) *ECRClient {
	return &ECRClient{api: api, region: region}
}

// Region returns the AWS region the client targets
func (c *ECRClient) Region() string {
	return c.region
}

// Exists probes the repository with DescribeRepositories. Only
// RepositoryNotFoundException maps to "absent".
func (c *ECRClient) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.RepositoryNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}

	return false, ErrProbeIndeterminate{Repository: name, Err: classify(OpProbe, name, err)}
}

// Create creates the repository with the given scan configuration
func (c *ECRClient) Create(ctx context.Context, name string, scan policy.ScanConfiguration) error {
	_, err := c.api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: scan.ScanOnPush,
		},
	})
	if err == nil {
		return nil
	}

	var exists *types.RepositoryAlreadyExistsException
	if errors.As(err, &exists) {
		return ErrAlreadyExists{Repository: name}
	}
	return classify(OpCreate, name, err)
}

// SetAccessPolicy replaces the repository policy
func (c *ECRClient) SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error {
	text, err := p.Render()
	if err != nil {
		return err
	}

	_, err = c.api.SetRepositoryPolicy(ctx, &ecr.SetRepositoryPolicyInput{
		RepositoryName: aws.String(name),
		PolicyText:     aws.String(string(text)),
	})
	if err != nil {
		return classify(OpSetAccessPolicy, name, err)
	}
	return nil
}

// SetLifecyclePolicy replaces the lifecycle policy. ECR rejects a policy
// without rules, so an empty policy deletes the existing one instead.
func (c *ECRClient) SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error {
	if p.IsEmpty() {
		_, err := c.api.DeleteLifecyclePolicy(ctx, &ecr.DeleteLifecyclePolicyInput{
			RepositoryName: aws.String(name),
		})
		var notFound *types.LifecyclePolicyNotFoundException
		if err != nil && !errors.As(err, &notFound) {
			return classify(OpSetLifecyclePolicy, name, err)
		}
		return nil
	}

	text, err := p.Render()
	if err != nil {
		return err
	}

	_, err = c.api.PutLifecyclePolicy(ctx, &ecr.PutLifecyclePolicyInput{
		RepositoryName:      aws.String(name),
		LifecyclePolicyText: aws.String(string(text)),
	})
	if err != nil {
		return classify(OpSetLifecyclePolicy, name, err)
	}
	return nil
}

// SetScanOnPush updates the image scanning configuration
func (c *ECRClient) SetScanOnPush(ctx context.Context, name string, enabled bool) error {
	_, err := c.api.PutImageScanningConfiguration(ctx, &ecr.PutImageScanningConfigurationInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: enabled,
		},
	})
	if err != nil {
		return classify(OpSetScanOnPush, name, err)
	}
	return nil
}

// GetAccessPolicy returns the current repository policy, or nil if none is set
func (c *ECRClient) GetAccessPolicy(ctx context.Context, name string) ([]byte, error) {
	out, err := c.api.GetRepositoryPolicy(ctx, &ecr.GetRepositoryPolicyInput{
		RepositoryName: aws.String(name),
	})
	if err != nil {
		var notFound *types.RepositoryPolicyNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, classify(OpGetAccessPolicy, name, err)
	}
	return []byte(aws.ToString(out.PolicyText)), nil
}

// GetLifecyclePolicy returns the current lifecycle policy, or nil if none is set
func (c *ECRClient) GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error) {
	out, err := c.api.GetLifecyclePolicy(ctx, &ecr.GetLifecyclePolicyInput{
		RepositoryName: aws.String(name),
	})
	if err != nil {
		var notFound *types.LifecyclePolicyNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, classify(OpGetLifecyclePolicy, name, err)
	}
	return []byte(aws.ToString(out.LifecyclePolicyText)), nil
}

// GetScanOnPush returns the current scan-on-push setting
func (c *ECRClient) GetScanOnPush(ctx context.Context, name string) (bool, error) {
	out, err := c.api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		return false, classify(OpGetScanOnPush, name, err)
	}
	if len(out.Repositories) == 0 || out.Repositories[0].ImageScanningConfiguration == nil {
		return false, nil
	}
	return out.Repositories[0].ImageScanningConfiguration.ScanOnPush, nil
}

// deniedCodes are API error codes that indicate a permission or credential problem
var deniedCodes = map[string]bool{
	"AccessDeniedException":               true,
	"UnrecognizedClientException":         true,
	"InvalidSignatureException":           true,
	"ExpiredTokenException":               true,
	"MissingAuthenticationTokenException": true,
	"InvalidClientTokenId":                true,
}

// classify maps an ECR error onto ErrDenied or ErrTransport
func classify(op, name string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && deniedCodes[apiErr.ErrorCode()] {
		return ErrDenied{Operation: op, Repository: name, Err: err}
	}
	return ErrTransport{Operation: op, Repository: name, Err: err}
}
