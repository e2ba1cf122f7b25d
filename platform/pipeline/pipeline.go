// Package pipeline implements the build/deploy pipeline bound to one
// deployed service: source repository, container build and rolling deploy.
//
// A Pipeline is a two-phase builder. AddRouteTo and AllowIngressTo
// accumulate build configuration; Setup declares the pipeline and consumes
// everything accumulated exactly once.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

// Build defaults.
const (
	DefaultBuildSpec   = "./ci/buildspec.yml"
	DefaultBuildImage  = "aws/codebuild/standard:7.0"
	DefaultComputeType = "BUILD_GENERAL1_SMALL"
	DefaultBranch      = "master"
	ImageDefinitions   = "imagedefinitions.json"

	sourceArtifact = "RepositoryOutput"
	buildArtifact  = "BuildOutput"
)

// ErrPipelineFinalized is returned when build configuration is changed
// after Setup.
var ErrPipelineFinalized = errors.New("pipeline already set up: build configuration is final")

// Target is the deployed unit a pipeline builds and deploys.
type Target interface {
	platform.Buildable
	Service() platform.Handle
	ClusterName() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBranch sets the source branch that triggers the pipeline.
func WithBranch(branch string) Option {
	return func(p *Pipeline) { p.branch = branch }
}

// WithBuildSpec sets the buildspec path inside the source repository.
func WithBuildSpec(path string) Option {
	return func(p *Pipeline) { p.buildSpec = path }
}

// WithBuildImage sets the build environment image.
func WithBuildImage(image string) Option {
	return func(p *Pipeline) { p.buildImage = image }
}

// Pipeline builds a Target's image from its source repository and deploys
// it to the Target's service.
type Pipeline struct {
	pctx       *platform.PlatformContext
	id         string
	target     Target
	branch     string
	buildSpec  string
	buildImage string
	env        *platform.Environment
	ingress    platform.IngressSet
	boundary   platform.Boundary
	setUp      bool

	project  platform.Handle
	pipeline platform.Handle
	stages   []string
}

var _ platform.OutboundConnection = (*Pipeline)(nil)

// New binds a pipeline to target. The build's network boundary is declared
// immediately; everything else is declared by Setup.
func New(pctx *platform.PlatformContext, id string, target Target, opts ...Option) (*Pipeline, error) {
	if pctx == nil {
		return nil, platform.ErrNilContext
	}
	if target == nil {
		return nil, fmt.Errorf("pipeline %s: target must not be nil", id)
	}
	if err := platform.ValidateCanonicalName(id); err != nil {
		return nil, err
	}
	p := &Pipeline{
		pctx:       pctx,
		id:         strings.ToLower(id),
		target:     target,
		branch:     DefaultBranch,
		buildSpec:  DefaultBuildSpec,
		buildImage: DefaultBuildImage,
		env:        platform.NewEnvironment(),
	}
	for _, opt := range opts {
		opt(p)
	}
	sg, err := pctx.Graph().Add(platform.TypeSecurityGroup, p.id+"-build-sg", map[string]any{
		"group_name":  p.id + "-build",
		"description": "Build for " + target.CanonicalName(),
		"vpc_id":      pctx.Network().VPC.Ref(),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.id, err)
	}
	p.boundary = platform.NewBoundary(sg.Name, 0)
	return p, nil
}

// ID returns the pipeline's identifier.
func (p *Pipeline) ID() string { return p.id }

// Target returns the unit the pipeline deploys.
func (p *Pipeline) Target() Target { return p.target }

// Environment returns the build environment.
func (p *Pipeline) Environment() *platform.Environment { return p.env }

// Boundary returns the build's network boundary.
func (p *Pipeline) Boundary() platform.Boundary { return p.boundary }

// SetUp reports whether Setup has run.
func (p *Pipeline) SetUp() bool { return p.setUp }

// Stages returns the stage names in execution order, or nil before Setup.
func (p *Pipeline) Stages() []string { return append([]string(nil), p.stages...) }

// BuildProject returns the build project handle, or a zero handle before
// Setup.
func (p *Pipeline) BuildProject() platform.Handle { return p.project }

// Pipeline returns the pipeline handle, or a zero handle before Setup.
func (p *Pipeline) Pipeline() platform.Handle { return p.pipeline }

// AddRouteTo adds name=value to the build environment.
func (p *Pipeline) AddRouteTo(name string, value platform.Value) error {
	if p.setUp {
		return fmt.Errorf("pipeline %s: add route %q: %w", p.id, name, ErrPipelineFinalized)
	}
	if err := p.env.Set(name, value); err != nil {
		return fmt.Errorf("pipeline %s: %w", p.id, err)
	}
	return nil
}

// AllowIngressTo records that the build must reach b. The grant is made by
// Setup, so every call must precede it.
func (p *Pipeline) AllowIngressTo(b platform.Boundary) error {
	if err := p.ingress.Add(b); err != nil {
		if errors.Is(err, platform.ErrIngressFinalized) {
			return fmt.Errorf("pipeline %s: %w: %w", p.id, ErrPipelineFinalized, err)
		}
		return fmt.Errorf("pipeline %s: %w", p.id, err)
	}
	return nil
}

// Setup declares the source, build and deploy stages and grants the build
// default-port ingress into every boundary recorded by AllowIngressTo. It
// runs once; a second call returns platform.ErrAlreadySetUp and declares
// nothing. A failed Setup leaves the graph and the recorded boundaries as
// they were, so it can be retried.
func (p *Pipeline) Setup() error {
	if p.setUp {
		return fmt.Errorf("pipeline %s: %w", p.id, platform.ErrAlreadySetUp)
	}
	g := p.pctx.Graph()
	cp := g.Checkpoint()
	if err := p.declare(); err != nil {
		g.Rollback(cp)
		return fmt.Errorf("pipeline %s: %w", p.id, err)
	}
	p.setUp = true
	p.pctx.Logger().Debug("pipeline set up", "pipeline", p.id, "target", p.target.CanonicalName(), "stages", strings.Join(p.stages, ","))
	return nil
}

func (p *Pipeline) declare() error {
	g := p.pctx.Graph()
	canonical := strings.ToLower(p.target.CanonicalName())
	network := p.pctx.Network()

	repo, err := g.Add(platform.TypeSourceRepository, p.id+"-source", map[string]any{
		"repository_name": canonical,
		"description":     "Source for " + canonical,
	})
	if err != nil {
		return err
	}

	bucket, err := g.Add(platform.TypeBucket, p.id+"-artifacts", map[string]any{
		"bucket_name":   platform.ShortName(platform.ResourceName(p.pctx.Name(), p.id, "artifacts"), 63),
		"force_destroy": true,
	})
	if err != nil {
		return err
	}

	if err := p.env.Set("CONTAINER_NAME", platform.String("ServiceContainer")); err != nil {
		return err
	}
	if err := p.env.Set("REPOSITORY_URI", p.target.ImageRepository().Attr("repository_uri")); err != nil {
		return err
	}

	buildRole, err := g.Add(platform.TypeRole, p.id+"-build-role", map[string]any{
		"role_name":      platform.ShortName(p.id+"-build", 64),
		"assume_service": "codebuild.amazonaws.com",
		"inline_policy": map[string]any{
			"actions": []string{
				"ecr:*",
				"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents",
				"ec2:CreateNetworkInterface", "ec2:CreateNetworkInterfacePermission",
				"ec2:DeleteNetworkInterface", "ec2:DescribeNetworkInterfaces",
				"ec2:DescribeSubnets", "ec2:DescribeSecurityGroups",
				"ec2:DescribeDhcpOptions", "ec2:DescribeVpcs",
				"s3:GetObject", "s3:PutObject", "s3:GetBucketLocation",
			},
			"resources": []string{"*"},
		},
	})
	if err != nil {
		return err
	}

	project, err := g.Add(platform.TypeBuildProject, p.id+"-build", map[string]any{
		"project_name":       platform.ShortName(canonical+"-build", 255),
		"buildspec":          p.buildSpec,
		"image":              p.buildImage,
		"compute_type":       DefaultComputeType,
		"privileged":         true,
		"service_role_arn":   buildRole.Attr("arn"),
		"environment":        p.env,
		"vpc_id":             network.VPC.Ref(),
		"subnet_ids":         network.SubnetIDs(platform.SubnetApplication),
		"security_group_ids": []platform.Value{p.boundary.GroupID},
	})
	if err != nil {
		return err
	}

	for _, b := range p.ingress.Pending() {
		if _, err := g.Grant(platform.IngressGrant{From: p.boundary, To: b}); err != nil {
			return fmt.Errorf("allow ingress to %s: %w", b.Name, err)
		}
	}

	pipelineRole, err := g.Add(platform.TypeRole, p.id+"-pipeline-role", map[string]any{
		"role_name":      platform.ShortName(p.id+"-pipeline", 64),
		"assume_service": "codepipeline.amazonaws.com",
		"inline_policy": map[string]any{
			"actions": []string{
				"codecommit:GetBranch", "codecommit:GetCommit", "codecommit:UploadArchive",
				"codecommit:GetUploadArchiveStatus", "codecommit:CancelUploadArchive",
				"codebuild:BatchGetBuilds", "codebuild:StartBuild",
				"ecs:*", "iam:PassRole",
				"s3:GetObject", "s3:PutObject", "s3:GetBucketVersioning",
			},
			"resources": []string{"*"},
		},
	})
	if err != nil {
		return err
	}

	stages := []map[string]any{
		{
			"name":     "Source",
			"category": "Source",
			"provider": "CodeCommit",
			"outputs":  []string{sourceArtifact},
			"configuration": map[string]any{
				"RepositoryName": repo.Attr("name"),
				"BranchName":     p.branch,
			},
		},
		{
			"name":     "Build",
			"category": "Build",
			"provider": "CodeBuild",
			"inputs":   []string{sourceArtifact},
			"outputs":  []string{buildArtifact},
			"configuration": map[string]any{
				"ProjectName": project.Attr("name"),
			},
		},
		{
			"name":     "Deploy",
			"category": "Deploy",
			"provider": "ECS",
			"inputs":   []string{buildArtifact},
			"configuration": map[string]any{
				"ClusterName": p.target.ClusterName(),
				"ServiceName": p.target.Service().Attr("name"),
				"FileName":    ImageDefinitions,
			},
		},
	}
	pl, err := g.Add(platform.TypePipeline, p.id+"-pipeline", map[string]any{
		"pipeline_name":     platform.ShortName(canonical+"-pipeline", 100),
		"role_arn":          pipelineRole.Attr("arn"),
		"artifact_bucket":   bucket.Attr("name"),
		"restart_on_update": true,
		"stages":            stages,
	})
	if err != nil {
		return err
	}

	for _, o := range []platform.Output{
		{Name: canonical + "RepositoryCloneUrlSSH", Value: repo.Attr("clone_url_ssh")},
		{Name: canonical + "RepositoryCloneUrlHTTP", Value: repo.Attr("clone_url_http")},
	} {
		if err := g.AddOutput(o.Name, o.Value); err != nil {
			return err
		}
	}

	// Closed last, once every grant is declared.
	if _, err := p.ingress.Drain(); err != nil {
		return err
	}
	p.project = project
	p.pipeline = pl
	p.stages = []string{"Source", "Build", "Deploy"}
	return nil
}
