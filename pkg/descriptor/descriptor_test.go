package descriptor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
)

type upstream struct{ value string }

type fieldFactory struct {
	In  upstream `flow:"in,id=tagged,optional"`
	out string
}

func (f *fieldFactory) Read(ctx context.Context) error    { return nil }
func (f *fieldFactory) Process(ctx context.Context) error { return nil }
func (f *fieldFactory) Write(ctx context.Context) error   { return nil }
func (f *fieldFactory) Get() any                          { return f.out }
func (f *fieldFactory) OutputType() delivery.RuntimeType  { return delivery.TypeFor[string]() }

type setterFactory struct {
	received upstream
}

func (f *setterFactory) Read(ctx context.Context) error    { return nil }
func (f *setterFactory) Process(ctx context.Context) error { return nil }
func (f *setterFactory) Write(ctx context.Context) error   { return nil }
func (f *setterFactory) Get() any                          { return f.received }
func (f *setterFactory) OutputType() delivery.RuntimeType  { return delivery.TypeFor[upstream]() }
func (f *setterFactory) SetUpstream(u upstream) {
	f.received = u
}
func (f *setterFactory) SinkSetters() []descriptor.SetterSpec {
	return []descriptor.SetterSpec{{Method: "SetUpstream"}}
}

type badSetterFactory struct{}

func (f *badSetterFactory) Read(ctx context.Context) error    { return nil }
func (f *badSetterFactory) Process(ctx context.Context) error { return nil }
func (f *badSetterFactory) Write(ctx context.Context) error   { return nil }
func (f *badSetterFactory) Get() any                          { return nil }
func (f *badSetterFactory) OutputType() delivery.RuntimeType  { return delivery.TypeFor[string]() }
func (f *badSetterFactory) SetTwoArgs(a, b upstream)          {}
func (f *badSetterFactory) SinkSetters() []descriptor.SetterSpec {
	return []descriptor.SetterSpec{{Method: "SetTwoArgs"}}
}

func TestDescribe_FieldSlot(t *testing.T) {
	desc, err := descriptor.Describe(&fieldFactory{})
	require.NoError(t, err)
	require.Len(t, desc.Inputs, 1)

	slot := desc.Inputs[0]
	assert.True(t, slot.Optional)
	assert.Equal(t, "tagged", slot.DeliveryID)
	assert.True(t, slot.RuntimeType.Equal(delivery.TypeFor[upstream]()))
}

func TestDescribe_CachesByConcreteType(t *testing.T) {
	d1, err := descriptor.Describe(&fieldFactory{})
	require.NoError(t, err)
	d2, err := descriptor.Describe(&fieldFactory{})
	require.NoError(t, err)
	assert.Same(t, d1, d2)
}

func TestDescribe_SetterSlot(t *testing.T) {
	f := &setterFactory{}
	desc, err := descriptor.Describe(f)
	require.NoError(t, err)
	require.Len(t, desc.Inputs, 1)

	slot := desc.Inputs[0]
	require.NoError(t, slot.Assign(f, upstream{value: "hi"}))
	assert.Equal(t, "hi", f.received.value)
}

func TestDescribe_SetterWithWrongArityFails(t *testing.T) {
	_, err := descriptor.Describe(&badSetterFactory{})
	require.Error(t, err)
	var descErr *descriptor.DescriptorError
	require.ErrorAs(t, err, &descErr)
}

func TestSlot_Assign_FieldFactory(t *testing.T) {
	f := &fieldFactory{}
	desc, err := descriptor.Describe(f)
	require.NoError(t, err)

	require.NoError(t, desc.Inputs[0].Assign(f, upstream{value: "x"}))
	assert.Equal(t, "x", f.In.value)
}
