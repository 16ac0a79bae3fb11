package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubsystemFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"[PATCH net-next v2 1/3] net: ethtool: add knob", "net-next"},
		{"[PATCH bpf] bpf: fix verifier", "bpf"},
		{"[PATCH v3] drm/amd/display: fix leak", "drm/amd/display"},
		{"[RFC PATCH] mm: new idea", "mm"},
		{"Re: [PATCH] usb: gadget: fix", "usb"},
		{"net: phy: fix reset", "net"},
		{"Merge tag 'for-linus' of git://example", ""},
		{"A sentence with words: not a subsystem", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SubsystemFromTitle("", tt.title), tt.title)
	}
}

func TestPatchStateFromTitle(t *testing.T) {
	assert.Equal(t, "patch", PatchStateFromTitle("", "[PATCH v2] x: y"))
	assert.Equal(t, "rfc", PatchStateFromTitle("", "[RFC PATCH] x: y"))
	assert.Equal(t, "reply", PatchStateFromTitle("", "Re: [PATCH] x: y"))
	assert.Equal(t, "pull", PatchStateFromTitle("", "[GIT PULL] fixes"))
	assert.Equal(t, "", PatchStateFromTitle("", "plain subject"))
}

func TestRepoFromURL(t *testing.T) {
	assert.Equal(t, "apache/kafka", RepoFromURL("https://github.com/apache/kafka/pull/1", ""))
	assert.Equal(t, "apache/kafka", RepoFromURL("https://api.github.com/repos/apache/kafka/pulls/1", ""))
	assert.Equal(t, "", RepoFromURL("https://gitlab.com/a/b/-/merge_requests/1", ""))
	assert.Equal(t, "", RepoFromURL("https://github.com/apache", ""))
	assert.Equal(t, "", RepoFromURL("::not a url", ""))
}

func TestListAndTicketAndCommitDerivations(t *testing.T) {
	assert.Equal(t, "linux-kernel", ListFromURL("https://lore.kernel.org/linux-kernel/msgid@x/", ""))
	assert.Equal(t, "", ListFromURL("https://lore.kernel.org/all/msgid@x/", ""))
	assert.Equal(t, "", ListFromURL("https://example.org/netdev/", ""))

	assert.Equal(t, "KAFKA-42", TicketKeyFromURL("https://issues.apache.org/jira/browse/KAFKA-42", ""))
	assert.Equal(t, "", TicketKeyFromURL("https://issues.apache.org/jira/browse/", ""))
	assert.Equal(t, "KAFKA", ProjectFromTicketKey("https://issues.apache.org/jira/browse/KAFKA-42", ""))

	assert.Equal(t, "deadbeef00", CommitFromURL("https://git.kernel.org/x/linux.git/commit/?id=deadbeef00", ""))
	assert.Equal(t, "deadbeef00", CommitFromURL("https://github.com/torvalds/linux/commit/deadbeef00", ""))
	assert.Equal(t, "", CommitFromURL("https://example.org/", ""))
}
