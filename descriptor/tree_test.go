package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannelTree(t *testing.T) *StreamDescriptor {
	t.Helper()
	d, err := New("BioSemi", "EEG", 3, 100, Float32, "")
	require.NoError(t, err)

	channels := d.Desc().AppendChild("channels")
	for _, label := range []string{"C3", "C4", "Cz"} {
		channels.AppendChild("channel").
			AppendChildValue("label", label).
			AppendChildValue("unit", "microvolts").
			AppendChildValue("type", "EEG")
	}
	return d
}

func TestTreeNavigation(t *testing.T) {
	d := newChannelTree(t)

	channels := d.Desc().Child("channels")
	require.False(t, channels.Empty())

	var labels []string
	for ch := channels.FirstChild(); !ch.Empty(); ch = ch.NextSibling() {
		assert.Equal(t, "channel", ch.Name())
		labels = append(labels, ch.ChildValue("label"))
	}
	assert.Equal(t, []string{"C3", "C4", "Cz"}, labels)

	// Backwards walk from the last child.
	last := channels.LastChild()
	assert.Equal(t, "Cz", last.ChildValue("label"))
	assert.Equal(t, "C4", last.PreviousSibling().ChildValue("label"))

	// Parent links.
	assert.Equal(t, "channels", last.Parent().Name())
	assert.Equal(t, "desc", channels.Parent().Name())
	assert.True(t, d.Desc().Parent().Empty())
}

func TestTreeNamedSiblings(t *testing.T) {
	d, err := New("X", "EEG", 1, 0, Float32, "")
	require.NoError(t, err)

	root := d.Desc()
	root.AppendChildValue("maker", "a")
	root.AppendChildValue("serial", "1")
	root.AppendChildValue("maker", "b")

	first := root.Child("maker")
	second := first.NextSiblingNamed("maker")
	require.False(t, second.Empty())
	assert.Equal(t, "b", second.Value())
	assert.True(t, second.NextSiblingNamed("maker").Empty())
	assert.Equal(t, "a", second.PreviousSiblingNamed("maker").Value())
}

func TestTreeEmptyNodeChainsSafely(t *testing.T) {
	var n Node
	assert.True(t, n.Empty())
	assert.Equal(t, "", n.Child("x").FirstChild().Value())
	assert.True(t, n.AppendChild("x").Empty())
	assert.False(t, n.SetValue("v"))
	assert.False(t, n.SetName("v"))
}

func TestTreeSetChildValue(t *testing.T) {
	d, err := New("X", "EEG", 1, 0, Float32, "")
	require.NoError(t, err)

	root := d.Desc()
	root.SetChildValue("manufacturer", "Acme")
	assert.Equal(t, "Acme", root.ChildValue("manufacturer"))

	// Overwrites in place rather than appending a duplicate.
	root.SetChildValue("manufacturer", "Zen")
	assert.Equal(t, "Zen", root.ChildValue("manufacturer"))
	assert.True(t, root.Child("manufacturer").NextSiblingNamed("manufacturer").Empty())
}

func TestTreePrependChild(t *testing.T) {
	d, err := New("X", "EEG", 1, 0, Float32, "")
	require.NoError(t, err)

	root := d.Desc()
	root.AppendChildValue("b", "2")
	root.PrependChild("a").AppendText("1")

	assert.Equal(t, "a", root.FirstChild().Name())
	assert.Equal(t, "b", root.FirstChild().NextSibling().Name())
}

func TestTreeRemoveChild(t *testing.T) {
	d := newChannelTree(t)
	channels := d.Desc().Child("channels")

	middle := channels.FirstChild().NextSibling()
	require.Equal(t, "C4", middle.ChildValue("label"))

	require.True(t, channels.RemoveChildNode(middle))
	assert.True(t, middle.Empty())

	var labels []string
	for ch := channels.FirstChild(); !ch.Empty(); ch = ch.NextSibling() {
		labels = append(labels, ch.ChildValue("label"))
	}
	assert.Equal(t, []string{"C3", "Cz"}, labels)

	// Removing by name drops the first match.
	require.True(t, channels.RemoveChild("channel"))
	assert.Equal(t, "Cz", channels.FirstChild().ChildValue("label"))

	assert.False(t, channels.RemoveChild("nonexistent"))
}

func TestTreeSetNameAndValue(t *testing.T) {
	d, err := New("X", "EEG", 1, 0, Float32, "")
	require.NoError(t, err)

	n := d.Desc().AppendChild("old")
	require.True(t, n.SetName("new"))
	assert.Equal(t, "new", n.Name())

	require.True(t, n.SetValue("content"))
	assert.Equal(t, "content", n.Value())

	// Text leaves cannot be renamed.
	text := n.FirstChildAny()
	require.True(t, text.IsText())
	assert.False(t, text.SetName("x"))
}
