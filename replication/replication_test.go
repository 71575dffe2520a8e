package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/schema"
)

type staticTopology map[string][]federation.Member

func (s staticTopology) Members(_ context.Context, name string) ([]federation.Member, error) {
	return s[name], nil
}

func members(fed string, highs ...int64) []federation.Member {
	out := make([]federation.Member, 0, len(highs)+1)
	low := federation.NegInfinity(federation.RangeInt64)
	for i := 0; i <= len(highs); i++ {
		high := federation.Infinity(federation.RangeInt64)
		if i < len(highs) {
			high = federation.Int(federation.RangeInt64, highs[i])
		}
		out = append(out, federation.Member{Federation: fed, Ordinal: i, Low: low, High: high})
		low = high
	}
	return out
}

type Customer struct {
	ID   int64
	Name string
}

type Country struct {
	Code    string
	Allowed map[int]bool
}

func (c *Country) AcceptsMember(m federation.Member) bool {
	if c.Allowed == nil {
		return true
	}
	return c.Allowed[m.Ordinal]
}

type keyed struct{ key any }

func (k keyed) PartitionKey() any { return k.key }

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	catalog, err := federation.NewCatalog([]federation.Config{
		{Name: "FED_1", Tables: "orders:customer_id,countries"},
		{Name: "FED_2", Tables: "countries,customers:id"},
		{Name: "FED_3", Tables: "customers:id"},
	})
	require.NoError(t, err)

	topo := staticTopology{
		"FED_1": members("FED_1", 5),
		"FED_2": members("FED_2", 100),
		"FED_3": members("FED_3", 10, 20),
	}
	reg := schema.NewRegistry()
	reg.Register(schema.Entity{
		Table: "customers",
		Key: func(v any) (any, bool) {
			c, ok := v.(*Customer)
			if !ok {
				return nil, false
			}
			return c.ID, true
		},
	})
	return New(catalog, routing.New(catalog, topo), reg)
}

func keys(targets []federation.ShardTarget) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Key())
	}
	return out
}

func TestIsReplicated(t *testing.T) {
	c := newCoordinator(t)

	assert.True(t, c.IsReplicated("countries"))
	assert.True(t, c.IsReplicated("customers"))
	assert.False(t, c.IsReplicated("orders"))
	assert.False(t, c.IsReplicated("settings"))
}

func TestWriteTargetsUnmapped(t *testing.T) {
	c := newCoordinator(t)

	targets, err := c.TargetsForReplicatedWrite(context.Background(), "settings", nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.True(t, targets[0].IsRoot())
}

func TestWriteTargetsLocallyReplicated(t *testing.T) {
	c := newCoordinator(t)

	targets, err := c.TargetsForReplicatedWrite(context.Background(), "countries", &Country{Code: "CN"})
	require.NoError(t, err)
	assert.Equal(t, []string{"FED_1/0", "FED_1/1", "FED_2/0", "FED_2/1"}, keys(targets))
}

func TestWriteTargetsReplicaFilter(t *testing.T) {
	c := newCoordinator(t)

	country := &Country{Code: "CN", Allowed: map[int]bool{1: true}}
	targets, err := c.TargetsForReplicatedWrite(context.Background(), "countries", country)
	require.NoError(t, err)
	assert.Equal(t, []string{"FED_1/1", "FED_2/1"}, keys(targets))

	_, err = c.TargetsForReplicatedWrite(context.Background(), "countries", &Country{Allowed: map[int]bool{}})
	assert.ErrorIs(t, err, ErrNoReplica)
	assert.ErrorIs(t, err, routing.ErrNoTarget)
}

func TestWriteTargetsOneOwnerPerFederation(t *testing.T) {
	c := newCoordinator(t)

	targets, err := c.TargetsForReplicatedWrite(context.Background(), "customers", &Customer{ID: 15})
	require.NoError(t, err)
	assert.Equal(t, []string{"FED_2/0", "FED_3/1"}, keys(targets))
}

func TestWriteTargetsPartitionKeyer(t *testing.T) {
	c := newCoordinator(t)

	targets, err := c.TargetsForReplicatedWrite(context.Background(), "orders", keyed{key: int64(9)})
	require.NoError(t, err)
	assert.Equal(t, []string{"FED_1/1"}, keys(targets))

	_, err = c.TargetsForReplicatedWrite(context.Background(), "orders", struct{}{})
	assert.ErrorIs(t, err, ErrNoPartitionKey)
}

func TestReadTargetsLocalReplica(t *testing.T) {
	c := newCoordinator(t)

	in := members("FED_1", 5)
	targets := []federation.ShardTarget{in[0].Target(), in[1].Target()}

	out := c.ReadTargets("orders", false, targets)
	assert.Equal(t, []string{"FED_1/0", "FED_1/1"}, keys(out))

	out = c.ReadTargets("countries", false, targets)
	assert.Equal(t, []string{"FED_1/0"}, keys(out))
}

func TestReadTargetsSkipSiblingFederations(t *testing.T) {
	c := newCoordinator(t)

	var targets []federation.ShardTarget
	for _, m := range members("FED_2", 100) {
		targets = append(targets, m.Target())
	}
	for _, m := range members("FED_3", 10, 20) {
		targets = append(targets, m.Target())
	}

	// customers 在 FED_2 与 FED_3 中都按键分区：只读取第一个联邦的全部成员
	out := c.ReadTargets("customers", true, targets)
	assert.Equal(t, []string{"FED_2/0", "FED_2/1"}, keys(out))

	// countries 在 FED_2 中本地复制：只读取一个成员
	out = c.ReadTargets("countries", true, targets)
	assert.Equal(t, []string{"FED_2/0"}, keys(out))
}

func TestReadTargetsKeepRoot(t *testing.T) {
	c := newCoordinator(t)

	out := c.ReadTargets("settings", true, []federation.ShardTarget{federation.Root()})
	require.Len(t, out, 1)
	assert.True(t, out[0].IsRoot())
}
