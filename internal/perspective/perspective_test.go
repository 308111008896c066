package perspective

import (
	"encoding/json"
	"testing"
	"time"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/diffsync/internal/dag"
)

var testIdentity = &dag.Identity{
	DID:        "did:key:z6MkehRgf7yJbgaGfYsdoAsKdBPE3dj2CYhowQdcjqSJgvVd",
	PublicKey:  "A6EHv/POEL4dcN0Y50vAmWfk1jCbpQ1fHdyGZBJVMbg=",
	PrivateKey: "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=",
}

func TestSignVerify(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, err := Sign(testIdentity, NewTriple("ad4m://self", "likes", "note://1"), ts)
	require.NoError(t, err)
	assert.Equal(t, testIdentity.DID, l.Author)
	assert.Equal(t, testIdentity.DID, l.Proof.Key)
	require.NoError(t, Verify(l))

	tampered := l
	target := "note://2"
	tampered.Data.Target = &target
	assert.ErrorIs(t, Verify(tampered), ErrBadSignature)
}

func TestSignVerify_SurvivesJSON(t *testing.T) {
	l, err := Sign(testIdentity, NewTriple("a", "", "b"), time.Now())
	require.NoError(t, err)

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "predicate")

	var back LinkExpression
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, Verify(back))
	assert.True(t, back.Equal(l))
}

func TestLinkExpression_Equal(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := LinkExpression{Author: "x", Data: NewTriple("s", "p", "t"), Timestamp: ts}
	b := LinkExpression{Author: "x", Data: NewTriple("s", "p", "t"), Timestamp: ts.In(time.FixedZone("x", 3600))}
	assert.True(t, a.Equal(b), "same instant in another zone")

	noTarget := LinkExpression{Author: "x", Data: NewTriple("s", "p", ""), Timestamp: ts}
	emptyTarget := noTarget
	empty := ""
	emptyTarget.Data.Target = &empty
	assert.False(t, noTarget.Equal(emptyTarget), "absent and empty target differ")
}

func TestTriple_Equal(t *testing.T) {
	assert.True(t, NewTriple("s", "p", "t").Equal(NewTriple("s", "p", "t")))
	assert.True(t, NewTriple("s", "", "").Equal(NewTriple("s", "", "")))
	assert.False(t, NewTriple("s", "p", "t").Equal(NewTriple("s", "p", "u")))
	assert.False(t, NewTriple("s", "p", "").Equal(NewTriple("s", "p", "t")))
}

func TestPerspectiveDiff_Without(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l1 := LinkExpression{Author: "a", Data: NewTriple("1", "", ""), Timestamp: ts}
	l2 := LinkExpression{Author: "a", Data: NewTriple("2", "", ""), Timestamp: ts}
	l3 := LinkExpression{Author: "a", Data: NewTriple("3", "", ""), Timestamp: ts}

	d := PerspectiveDiff{Additions: []LinkExpression{l1, l2}, Removals: []LinkExpression{l3}}
	got := d.Without(PerspectiveDiff{Additions: []LinkExpression{l2}, Removals: []LinkExpression{l1}})

	assert.Equal(t, []LinkExpression{l1}, got.Additions)
	assert.Equal(t, []LinkExpression{l3}, got.Removals)
	assert.Equal(t, 2, got.TotalDiffNumber())
}

func TestEntryReference_JSONShape(t *testing.T) {
	c, err := dag.ComputeCID([]byte("diff"))
	require.NoError(t, err)

	root, err := dag.CanonicalJSON(EntryReference{Diff: c, DiffsSinceSnapshot: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"diff":{"/":"`+c.String()+`"},"diffs_since_snapshot":1}`, string(root))

	var back EntryReference
	require.NoError(t, dag.DecodeStrict(root, &back))
	assert.True(t, back.Diff.Equals(c))
	assert.Nil(t, back.Parents)
	assert.False(t, back.IsMerge())

	merge := EntryReference{Diff: c, Parents: []gocid.Cid{c, c}}
	assert.True(t, merge.IsMerge())
}
