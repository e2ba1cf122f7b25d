// Package platform defines the composition core: the shared platform context
// every deployable unit is placed onto, the capability interfaces units
// implement to take part in composition, and the resource graph that the
// composition pass emits for a provisioning engine to consume.
//
// Composition is a build-time, single-threaded pass. Nothing in this package
// performs I/O; values that are only known after provisioning are carried as
// deferred Values and resolved later by the engine.
package platform

import "time"

// ResourceStatus represents the lifecycle state of a provisioned resource.
type ResourceStatus string

const (
	// ResourceStatusPending indicates the resource has been declared but not yet provisioned.
	ResourceStatusPending ResourceStatus = "pending"

	// ResourceStatusCreating indicates the resource is being provisioned.
	ResourceStatusCreating ResourceStatus = "creating"

	// ResourceStatusActive indicates the resource is provisioned and healthy.
	ResourceStatusActive ResourceStatus = "active"

	// ResourceStatusFailed indicates provisioning failed.
	ResourceStatusFailed ResourceStatus = "failed"
)

// Resource types emitted into the graph. Drivers register under these names.
const (
	TypeVPC                  = "aws.vpc"
	TypeSubnet               = "aws.subnet"
	TypeSecurityGroup        = "aws.security_group"
	TypeSecurityGroupIngress = "aws.security_group_ingress"
	TypeVPCEndpoint          = "aws.vpc_endpoint"
	TypeECSCluster           = "aws.ecs_cluster"
	TypeTaskDefinition       = "aws.ecs_task_definition"
	TypeECSService           = "aws.ecs_service"
	TypeLoadBalancer         = "aws.alb"
	TypeListener             = "aws.alb_listener"
	TypeTargetGroup          = "aws.alb_target_group"
	TypeListenerRule         = "aws.alb_listener_rule"
	TypeHostedZone           = "aws.route53_zone"
	TypeRecord               = "aws.route53_record"
	TypeImageRepository      = "aws.ecr_repository"
	TypeLogGroup             = "aws.log_group"
	TypeRole                 = "aws.iam_role"
	TypeDBSubnetGroup        = "aws.db_subnet_group"
	TypeDatabase             = "aws.rds"
	TypeSourceRepository     = "aws.codecommit_repository"
	TypeBucket               = "aws.s3_bucket"
	TypeBuildProject         = "aws.codebuild_project"
	TypePipeline             = "aws.codepipeline"
)

// ResourceOutput represents the concrete output of a provisioned resource.
// Deferred values read their inputs from these.
type ResourceOutput struct {
	// Name is the graph resource name.
	Name string `json:"name"`

	// Type is the resource type (e.g., "aws.alb").
	Type string `json:"type"`

	// ID is the provider-assigned identifier (ARN, resource id).
	ID string `json:"id,omitempty"`

	// Endpoint is the primary access endpoint for the resource, if applicable.
	Endpoint string `json:"endpoint,omitempty"`

	// CredentialRef is a reference to the credential secret that protects
	// the resource, if the provider manages one.
	CredentialRef string `json:"credentialRef,omitempty"`

	// Properties are provider-specific output properties.
	Properties map[string]any `json:"properties"`

	// Status is the current lifecycle state of the resource.
	Status ResourceStatus `json:"status"`

	// LastSynced is the last time the resource state was read from the provider.
	LastSynced time.Time `json:"lastSynced"`

	// Digest fingerprints the declaration the resource was last applied
	// from. Empty for resources recorded before digests were kept.
	Digest string `json:"digest,omitempty"`
}

// Property returns the named output property formatted as a string, and
// whether it was present. ID and Endpoint are addressable as "id" and
// "endpoint" as well.
func (o *ResourceOutput) Property(key string) (string, bool) {
	switch key {
	case "id":
		return o.ID, o.ID != ""
	case "endpoint":
		return o.Endpoint, o.Endpoint != ""
	}
	v, ok := o.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	return formatScalar(v), true
}

// ResourcePlan is the rendered, provider-facing view of a graph resource.
// Deferred values appear as "${...}" placeholders; they are never resolved
// when a plan is rendered.
type ResourcePlan struct {
	// ResourceType is the resource type (e.g., "aws.alb_listener_rule").
	ResourceType string `json:"resourceType"`

	// Name is the resource instance name.
	Name string `json:"name"`

	// Properties are the rendered properties for the resource.
	Properties map[string]any `json:"properties"`

	// DependsOn lists other resource names that must be created first.
	DependsOn []string `json:"dependsOn,omitempty"`
}
