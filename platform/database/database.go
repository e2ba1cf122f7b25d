// Package database implements the managed database unit. A database grants
// consumers network access and hands them a deferred connection string.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

// Defaults for a managed database.
const (
	DefaultName          = "data"
	DefaultUser          = "dbadmin"
	DefaultEngine        = "postgres"
	DefaultInstanceClass = "db.t3.micro"
	DefaultStorageGiB    = 20
)

var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
	"mariadb":  3306,
}

// Option configures a Database.
type Option func(*Database)

// WithName sets the name of the database created on the instance.
func WithName(name string) Option {
	return func(d *Database) { d.dbName = name }
}

// WithMasterUser sets the master user name.
func WithMasterUser(user string) Option {
	return func(d *Database) { d.user = user }
}

// WithEngine sets the database engine and, optionally, its version.
func WithEngine(engine, version string) Option {
	return func(d *Database) {
		d.engine = engine
		d.engineVersion = version
	}
}

// WithInstanceClass sets the instance class.
func WithInstanceClass(class string) Option {
	return func(d *Database) { d.instanceClass = class }
}

// WithPort overrides the engine's default port.
func WithPort(port int) Option {
	return func(d *Database) { d.port = port }
}

// WithStorage sets the allocated storage in GiB.
func WithStorage(gib int) Option {
	return func(d *Database) { d.storageGiB = gib }
}

// Database is a managed database instance placed in the platform's data
// subnets. Its master credentials live in a provider-managed secret.
type Database struct {
	pctx          *platform.PlatformContext
	id            string
	dbName        string
	user          string
	engine        string
	engineVersion string
	instanceClass string
	port          int
	storageGiB    int
	instance      platform.Handle
	boundary      platform.Boundary
}

var _ platform.Hostable = (*Database)(nil)

// New declares a database instance, its subnet group and security group.
func New(pctx *platform.PlatformContext, id string, opts ...Option) (*Database, error) {
	if pctx == nil {
		return nil, platform.ErrNilContext
	}
	if err := platform.ValidateCanonicalName(id); err != nil {
		return nil, err
	}
	d := &Database{
		pctx:          pctx,
		id:            strings.ToLower(id),
		dbName:        DefaultName,
		user:          DefaultUser,
		engine:        DefaultEngine,
		instanceClass: DefaultInstanceClass,
		storageGiB:    DefaultStorageGiB,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.port == 0 {
		p, ok := defaultPorts[d.engine]
		if !ok {
			return nil, fmt.Errorf("database %s: no default port for engine %q", d.id, d.engine)
		}
		d.port = p
	}
	g := pctx.Graph()
	cp := g.Checkpoint()
	if err := d.declare(); err != nil {
		g.Rollback(cp)
		return nil, fmt.Errorf("database %s: %w", d.id, err)
	}
	pctx.Logger().Debug("database declared", "database", d.id, "engine", d.engine, "class", d.instanceClass)
	return d, nil
}

func (d *Database) declare() error {
	g := d.pctx.Graph()
	sg, err := g.Add(platform.TypeSecurityGroup, d.id+"-db-sg", map[string]any{
		"group_name":  d.id + "-db",
		"description": "Database " + d.id,
		"vpc_id":      d.pctx.Network().VPC.Ref(),
	})
	if err != nil {
		return err
	}
	d.boundary = platform.NewBoundary(sg.Name, d.port)

	subnets, err := g.Add(platform.TypeDBSubnetGroup, d.id+"-subnets", map[string]any{
		"group_name":  d.id + "-subnets",
		"description": "Data subnets for " + d.id,
		"subnet_ids":  d.pctx.Network().SubnetIDs(platform.SubnetData),
	})
	if err != nil {
		return err
	}

	props := map[string]any{
		"identifier":             d.id,
		"engine":                 d.engine,
		"instance_class":         d.instanceClass,
		"db_name":                d.dbName,
		"master_username":        d.user,
		"manage_master_password": true,
		"port":                   d.port,
		"allocated_storage":      d.storageGiB,
		"subnet_group_name":      subnets.Attr("name"),
		"security_group_ids":     []platform.Value{d.boundary.GroupID},
		"performance_insights":   true,
		"multi_az":               false,
		"deletion_protection":    false,
		"publicly_accessible":    false,
	}
	if d.engineVersion != "" {
		props["engine_version"] = d.engineVersion
	}
	inst, err := g.Add(platform.TypeDatabase, d.id, props)
	if err != nil {
		return err
	}
	d.instance = inst
	return g.AddOutput(d.id+"Endpoint", inst.Attr("endpoint"))
}

// ID returns the instance identifier.
func (d *Database) ID() string { return d.id }

// Instance returns the database instance handle.
func (d *Database) Instance() platform.Handle { return d.instance }

// Boundary returns the database's network boundary. Its default port is the
// engine port.
func (d *Database) Boundary() platform.Boundary { return d.boundary }

// Route renders the instance endpoint for plans. The address is only known
// once the instance exists, so Link writes RouteValue instead.
func (d *Database) Route() string { return d.RouteValue().String() }

// RouteValue is the deferred instance endpoint. Linking to a database passes
// its host name without credentials; GrantAccess passes the full connection
// string.
func (d *Database) RouteValue() platform.Value { return d.instance.Attr("endpoint") }

// GrantAccess lets target reach the database and writes the connection
// string into target's environment under name. It records exactly one grant
// and one environment entry.
func (d *Database) GrantAccess(target platform.OutboundConnection, name string) error {
	if target == nil {
		return fmt.Errorf("database %s: %w", d.id, platform.ErrNilLinkEndpoint)
	}
	if name == "" {
		return fmt.Errorf("database %s: grant access: %w", d.id, platform.ErrEmptyEnvironmentKey)
	}
	if err := target.AllowIngressTo(d.boundary); err != nil {
		return fmt.Errorf("database %s: grant access: %w", d.id, err)
	}
	if err := target.AddRouteTo(name, d.ConnectionString()); err != nil {
		return fmt.Errorf("database %s: grant access: %w", d.id, err)
	}
	return nil
}

// ConnectionString returns a deferred "<engine>://<user>:<password>@<host>:<port>/<db>"
// descriptor. It is assembled at provisioning time from the instance's
// managed credential secret and endpoint. Resolution fails with a
// *platform.SecretUnavailableError when the secret cannot be read.
func (d *Database) ConnectionString() platform.Value {
	return platform.Lazy(d.id+".connection_string", d.resolveConnectionString, d.instance.Name)
}

func (d *Database) resolveConnectionString(ctx context.Context, r platform.Resolver) (string, error) {
	out, err := r.Output(d.instance.Name)
	if err != nil {
		return "", err
	}
	if out.CredentialRef == "" {
		return "", &platform.SecretUnavailableError{Resource: d.id}
	}
	user, err := r.Secret(ctx, out.CredentialRef+"#username")
	if err != nil {
		return "", &platform.SecretUnavailableError{Resource: d.id, Key: out.CredentialRef + "#username", Err: err}
	}
	password, err := r.Secret(ctx, out.CredentialRef+"#password")
	if err != nil {
		return "", &platform.SecretUnavailableError{Resource: d.id, Key: out.CredentialRef + "#password", Err: err}
	}
	if out.Endpoint == "" {
		return "", &platform.OutputMissingError{Resource: d.instance.Name, Key: "endpoint"}
	}
	port := strconv.Itoa(d.port)
	if p, ok := out.Property("port"); ok {
		port = p
	}
	u := url.URL{
		Scheme: d.engine,
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(out.Endpoint, port),
		Path:   "/" + d.dbName,
	}
	return u.String(), nil
}

var _ platform.DeferredRoutable = (*Database)(nil)
