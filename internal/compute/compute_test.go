package compute_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/compute/fake"
	"github.com/eniac111/computectl/internal/types"
)

func nodes() []types.Node {
	return []types.Node{
		{ID: "z/a-1", Group: "a", Status: types.NodeStatusRunning},
		{ID: "z/a-2", Group: "a", Status: types.NodeStatusTerminated},
		{ID: "z/b-1", Group: "b", Status: types.NodeStatusRunning},
	}
}

func ids(ns []types.Node) []string {
	var out []string
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestPredicates(t *testing.T) {
	all := nodes()

	assert.Equal(t, []string{"z/a-1", "z/a-2"}, ids(compute.Filter(all, compute.InGroup("a"))))
	assert.Equal(t, []string{"z/b-1"}, ids(compute.Filter(all, compute.WithIDs("z/b-1", "nope"))))
	assert.Equal(t, []string{"z/a-2"}, ids(compute.Filter(all, compute.Terminated())))
	assert.Equal(t, []string{"z/a-1", "z/b-1"}, ids(compute.Filter(all, compute.Running())))
	assert.Empty(t, compute.Filter(all, compute.WithIDs()))
}

func TestAndExcludesTerminatedBeforeMatchingID(t *testing.T) {
	filter := compute.And(compute.Not(compute.Terminated()), compute.InGroup("a"), compute.WithIDs("z/a-2"))
	assert.Empty(t, compute.Filter(nodes(), filter))

	filter = compute.And(compute.Not(compute.Terminated()), compute.InGroup("a"), compute.WithIDs("z/a-1"))
	assert.Equal(t, []string{"z/a-1"}, ids(compute.Filter(nodes(), filter)))
}

func TestRunOptions(t *testing.T) {
	def := compute.DefaultRunOptions()
	assert.True(t, def.RunAsRoot)
	assert.True(t, def.WrapInInitScript)

	login := types.LoginCredentials{User: "alice"}
	o := compute.OverrideLoginCredentials(login).WithRunAsRoot(false).WithInitScript(false)
	require.NotNil(t, o.Login)
	assert.Equal(t, "alice", o.Login.User)
	assert.False(t, o.RunAsRoot)
	assert.False(t, o.WrapInInitScript)

	o = o.NameTask("_setup")
	assert.Equal(t, "_setup", o.TaskName)
	assert.True(t, o.WrapInInitScript)
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", compute.NewError(compute.ExecutionFailure, "run script", base))

	assert.Equal(t, compute.ExecutionFailure, compute.KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, compute.Unknown, compute.KindOf(base))
	assert.Nil(t, compute.NewError(compute.AuthFailure, "op", nil))

	ce := &compute.Error{Kind: compute.ExecutionFailure, Op: "run script", Nodes: []string{"z/a", "z/b"}, Err: base}
	assert.Equal(t, "run script on nodes [z/a, z/b]: boom", ce.Error())
	assert.Equal(t, "ExecutionFailure", compute.ExecutionFailure.String())
	assert.Equal(t, "Unknown", compute.Kind(42).String())
}

func testImages() []types.Image {
	return []types.Image{{ID: "img", Name: "img"}}
}

func hardware() []types.Hardware {
	return []types.Hardware{
		{ID: "n1-standard-2", Cores: 2, MemoryMB: 7680},
		{ID: "f1-micro", Cores: 1, MemoryMB: 614},
		{ID: "n1-highcpu-8", Cores: 8, MemoryMB: 7372},
		{ID: "n1-highmem-8", Cores: 8, MemoryMB: 53248},
		{ID: "g1-small", Cores: 1, MemoryMB: 1740},
	}
}

func TestTemplateBuilderFastest(t *testing.T) {
	svc := &fake.Service{
		Images:   []types.Image{{ID: "debian-7", Name: "debian-7"}},
		Hardware: hardware(),
	}
	tpl, err := compute.NewTemplateBuilder(svc).
		ImageID("debian-7").
		LocationID("europe-west1-a").
		Fastest().
		Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "n1-highmem-8", tpl.Hardware.ID)
	assert.Equal(t, "europe-west1-a", tpl.Location)
	assert.Equal(t, "debian-7", tpl.Image.ID)
}

func TestTemplateBuilderDefaultsToSmallest(t *testing.T) {
	svc := &fake.Service{Images: testImages(), Hardware: hardware()}
	tpl, err := compute.NewTemplateBuilder(svc).
		ImageID("img").
		LocationID("z").
		Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f1-micro", tpl.Hardware.ID)
	assert.Equal(t, []string{"GetImage", "ListHardware"}, svc.Methods())
}

func TestTemplateBuilderFastestTieKeepsLowestID(t *testing.T) {
	svc := &fake.Service{Images: testImages(), Hardware: []types.Hardware{
		{ID: "b", Cores: 4, MemoryMB: 100},
		{ID: "a", Cores: 4, MemoryMB: 100},
	}}
	tpl, err := compute.NewTemplateBuilder(svc).ImageID("img").LocationID("z").Fastest().Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tpl.Hardware.ID)
}

func TestTemplateBuilderHardwareID(t *testing.T) {
	svc := &fake.Service{Images: testImages(), Hardware: hardware()}
	b := compute.NewTemplateBuilder(svc).ImageID("img").LocationID("z").Fastest()

	tpl, err := b.HardwareID("g1-small").Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "g1-small", tpl.Hardware.ID)

	_, err = b.HardwareID("missing").Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, compute.ProvisionFailure, compute.KindOf(err))
}

func TestTemplateBuilderFailures(t *testing.T) {
	ctx := context.Background()

	_, err := compute.NewTemplateBuilder(&fake.Service{Hardware: hardware()}).ImageID("img").Build(ctx)
	require.ErrorContains(t, err, "no location")

	_, err = compute.NewTemplateBuilder(&fake.Service{Hardware: hardware()}).LocationID("z").Build(ctx)
	require.ErrorContains(t, err, "no image")

	_, err = compute.NewTemplateBuilder(&fake.Service{Hardware: hardware()}).ImageID("missing").LocationID("z").Build(ctx)
	require.ErrorContains(t, err, `image "missing" not found`)
	assert.Equal(t, compute.ProvisionFailure, compute.KindOf(err))

	_, err = compute.NewTemplateBuilder(&fake.Service{Images: testImages()}).ImageID("img").LocationID("z").Build(ctx)
	require.ErrorContains(t, err, "no hardware available in z")

	svc := &fake.Service{Images: testImages(), Err: map[string]error{"ListHardware": errors.New("denied")}}
	_, err = compute.NewTemplateBuilder(svc).ImageID("img").LocationID("z").Build(ctx)
	require.ErrorContains(t, err, "denied")
	assert.Equal(t, compute.ProvisionFailure, compute.KindOf(err))
}
