package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder builds steps that append their name to a shared trace.
type recorder struct {
	trace []string
}

func (r *recorder) step(name string, execErr, compErr error) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, sctx Context) error {
			r.trace = append(r.trace, "exec:"+name)
			return execErr
		},
		Compensate: func(ctx context.Context, sctx Context) error {
			r.trace = append(r.trace, "comp:"+name)
			return compErr
		},
	}
}

func TestRunAllStepsSucceed(t *testing.T) {
	r := &recorder{}
	s := New("test", r.step("a", nil, nil), r.step("b", nil, nil), r.step("c", nil, nil))

	err := s.Run(context.Background(), Context{})

	require.NoError(t, err)
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c"}, r.trace)
}

func TestRunCompensatesInReverseOrder(t *testing.T) {
	boom := errors.New("step c exploded")
	r := &recorder{}
	s := New("test",
		r.step("a", nil, nil),
		r.step("b", nil, nil),
		r.step("c", boom, nil),
		r.step("d", nil, nil),
	)

	err := s.Run(context.Background(), Context{})

	// Original error unchanged, never wrapped.
	require.Same(t, boom, err)
	// a and b compensated in reverse; c never compensated; d never executed.
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a"}, r.trace)
}

func TestRunFirstStepFailureCompensatesNothing(t *testing.T) {
	boom := errors.New("first step failed")
	r := &recorder{}
	s := New("test", r.step("a", boom, nil), r.step("b", nil, nil))

	err := s.Run(context.Background(), Context{})

	require.Same(t, boom, err)
	assert.Equal(t, []string{"exec:a"}, r.trace)
}

func TestRunCompensationFailureContinuesUnwind(t *testing.T) {
	boom := errors.New("step d failed")
	compBoom := errors.New("compensation for c failed")
	r := &recorder{}
	s := New("test",
		r.step("a", nil, nil),
		r.step("b", nil, nil),
		r.step("c", nil, compBoom),
		r.step("d", boom, nil),
	)

	res := s.RunDetailed(context.Background(), Context{})

	require.NotNil(t, res)
	assert.Same(t, boom, res.Cause)
	assert.Equal(t, 3, res.FailedStep)
	// c's compensation failed but a and b were still compensated.
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "exec:d", "comp:c", "comp:b", "comp:a"}, r.trace)

	require.Len(t, res.Compensation, 3)
	assert.Equal(t, "c", res.Compensation[0].Step)
	assert.ErrorIs(t, res.Compensation[0].Err, compBoom)
	assert.Equal(t, "b", res.Compensation[1].Step)
	assert.NoError(t, res.Compensation[1].Err)
	assert.Equal(t, "a", res.Compensation[2].Step)
	assert.NoError(t, res.Compensation[2].Err)
}

func TestRunSkipsNilCompensations(t *testing.T) {
	boom := errors.New("fail")
	r := &recorder{}
	noComp := Step{
		Name: "no-comp",
		Execute: func(ctx context.Context, sctx Context) error {
			r.trace = append(r.trace, "exec:no-comp")
			return nil
		},
	}
	s := New("test", noComp, r.step("b", boom, nil))

	err := s.Run(context.Background(), Context{})

	require.Same(t, boom, err)
	assert.Equal(t, []string{"exec:no-comp", "exec:b"}, r.trace)
}

func TestContextFlowsBetweenStepsAndCompensations(t *testing.T) {
	boom := errors.New("later step failed")
	var compensatedID string
	s := New("test",
		Step{
			Name: "create",
			Execute: func(ctx context.Context, sctx Context) error {
				sctx.Set("id", "generated-42")
				return nil
			},
			Compensate: func(ctx context.Context, sctx Context) error {
				// Compensation reads the id produced by its own execute.
				compensatedID = sctx.String("id")
				return nil
			},
		},
		Step{
			Name: "consume",
			Execute: func(ctx context.Context, sctx Context) error {
				if sctx.String("id") != "generated-42" {
					t.Fatal("step did not observe value produced by earlier step")
				}
				return boom
			},
		},
	)

	err := s.Run(context.Background(), Context{})

	require.Same(t, boom, err)
	assert.Equal(t, "generated-42", compensatedID)
}
