package accessmemo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoLifecycle(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithMemo(context.Background())
	memo, ok := FromContext(ctx)
	require.True(t, ok)

	memo.Put(1, 10, "owner")
	memo.Put(2, 10, "member")

	v, ok := memo.Get(1, 10)
	assert.True(t, ok)
	assert.Equal(t, "owner", v)

	Invalidate(ctx, 1)
	_, ok = memo.Get(1, 10)
	assert.False(t, ok)
	_, ok = memo.Get(2, 10)
	assert.True(t, ok)
}

func TestFreshMemoPerContext(t *testing.T) {
	a := WithMemo(context.Background())
	b := WithMemo(context.Background())
	memoA, _ := FromContext(a)
	memoB, _ := FromContext(b)

	memoA.Put(1, 1, "owner")
	_, ok := memoB.Get(1, 1)
	assert.False(t, ok)
}
