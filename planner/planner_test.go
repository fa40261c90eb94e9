package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgepub/edgepub/publish"
)

const baseDocument = `{
  "listing": {
    "/content/dist/rhel/server": {"var": "releasever", "values": ["8"]},
    "/content/dist/rhel/server/8": {"var": "basearch", "values": ["x86_64"]}
  },
  "origin_alias": [
    {"src": "/content/origin", "dest": "/origin"}
  ],
  "releasever_alias": [
    {"src": "/content/dist/rhel8/8", "dest": "/content/dist/rhel8/8.5"}
  ],
  "rhui_alias": [
    {"src": "/content/dist/rhel8/rhui", "dest": "/content/dist/rhel8", "exclude_paths": ["/iso/"]}
  ]
}`

func mustParse(t *testing.T, doc string) *Config {
	t.Helper()
	c, err := ParseConfig([]byte(doc))
	require.NoError(t, err)
	return c
}

func TestParseConfig_KeepsRawDocument(t *testing.T) {
	doc := `{"unknown_key": {"a": 1}, "origin_alias": []}`
	c := mustParse(t, doc)
	assert.Equal(t, doc, string(c.Raw))
	assert.Empty(t, c.OriginAlias)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`{"origin_alias": "nope"}`))
	assert.Error(t, err)
}

func TestConfig_AllAliases(t *testing.T) {
	c := mustParse(t, baseDocument)
	all := c.AllAliases()
	require.Len(t, all, 3)
	assert.Equal(t, "/content/origin", all[0].Src)
	assert.Equal(t, "/content/dist/rhel8/8", all[1].Src)
	assert.Equal(t, []string{"/iso/"}, all[2].ExcludePaths)

	var nilConfig *Config
	assert.Empty(t, nilConfig.AllAliases())
}

func TestValidateDocument(t *testing.T) {
	assert.NoError(t, ValidateDocument([]byte(baseDocument)))
	assert.NoError(t, ValidateDocument([]byte(`{}`)))
	assert.NoError(t, ValidateDocument([]byte(`{"extra": [1, 2, 3]}`)))

	tests := []struct {
		name string
		doc  string
	}{
		{"not an object", `[]`},
		{"alias missing dest", `{"origin_alias": [{"src": "/a"}]}`},
		{"alias relative src", `{"releasever_alias": [{"src": "a", "dest": "/b"}]}`},
		{"listing missing values", `{"listing": {"/a": {"var": "releasever"}}}`},
		{"listing relative key", `{"listing": {"a": {"var": "releasever", "values": []}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.doc))
			require.Error(t, err)
			var verr *publish.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Messages)
		})
	}
}

func TestValidateDocument_Malformed(t *testing.T) {
	err := ValidateDocument([]byte(`{"origin_alias": [`))
	var verr *publish.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Messages[0], "Invalid config document")
}

func TestChangedAliases(t *testing.T) {
	prev := mustParse(t, `{
	  "origin_alias": [{"src": "/same", "dest": "/d"}, {"src": "/removed", "dest": "/d"}],
	  "releasever_alias": [{"src": "/moved", "dest": "/old"}]
	}`)
	next := mustParse(t, `{
	  "origin_alias": [{"src": "/same/", "dest": "/d"}, {"src": "/added", "dest": "/d"}],
	  "releasever_alias": [{"src": "/moved", "dest": "/new"}]
	}`)

	var srcs []string
	for _, a := range ChangedAliases(prev, next) {
		srcs = append(srcs, a.Src)
	}
	assert.ElementsMatch(t, []string{"/added", "/removed", "/moved"}, srcs)
}

func TestChangedAliases_NoPrevious(t *testing.T) {
	next := mustParse(t, baseDocument)
	assert.Len(t, ChangedAliases(nil, next), 3)
	assert.Empty(t, ChangedAliases(next, next))
}

func TestPlan_AliasUpdateWithListingFlush(t *testing.T) {
	next := mustParse(t, `{
	  "listing": {
	    "/content/dist/rhel/server": {"var": "releasever", "values": ["8"]},
	    "/content/dist/rhel/server/8": {"var": "basearch", "values": ["x86_64"]}
	  },
	  "releasever_alias": [
	    {"dest": "/content/testproduct/1.2.0", "src": "/content/testproduct/1"}
	  ]
	}`)

	out := Plan(Input{
		Prev: &Config{},
		Next: next,
		Published: []string{
			"/content/testproduct/1/file1",
			"/content/testproduct/1/file2",
			"/content/testproduct/1.1.0/file3",
		},
		ListingFlush: true,
	})

	assert.Equal(t, []string{
		"/content/dist/rhel/server/8/listing",
		"/content/dist/rhel/server/listing",
		"/content/testproduct/1/file1",
		"/content/testproduct/1/file2",
	}, out)
}

func TestPlan_ListingFlushDisabled(t *testing.T) {
	out := Plan(Input{
		Prev:      nil,
		Next:      mustParse(t, baseDocument),
		Published: []string{"/content/unrelated/file"},
	})
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestPlan_NoChanges(t *testing.T) {
	c := mustParse(t, baseDocument)
	out := Plan(Input{
		Prev:         c,
		Next:         mustParse(t, baseDocument),
		Published:    []string{"/content/origin/file", "/content/dist/rhel8/8/repodata/repomd.xml"},
		ListingFlush: true,
	})
	assert.Empty(t, out)
}

func TestPlan_ListingValuesChanged(t *testing.T) {
	prev := mustParse(t, baseDocument)
	next := mustParse(t, `{
	  "listing": {
	    "/content/dist/rhel/server": {"var": "releasever", "values": ["8", "9"]},
	    "/content/dist/rhel/server/8": {"var": "basearch", "values": ["x86_64"]}
	  },
	  "origin_alias": [{"src": "/content/origin", "dest": "/origin"}],
	  "releasever_alias": [{"src": "/content/dist/rhel8/8", "dest": "/content/dist/rhel8/8.5"}],
	  "rhui_alias": [{"src": "/content/dist/rhel8/rhui", "dest": "/content/dist/rhel8", "exclude_paths": ["/iso/"]}]
	}`)

	out := Plan(Input{Prev: prev, Next: next, ListingFlush: true})
	assert.Equal(t, []string{"/content/dist/rhel/server/listing"}, out)
}

func TestPlan_RemovedAliasHonoursExclusions(t *testing.T) {
	prev := mustParse(t, baseDocument)
	next := mustParse(t, `{
	  "origin_alias": [{"src": "/content/origin", "dest": "/origin"}],
	  "releasever_alias": [{"src": "/content/dist/rhel8/8", "dest": "/content/dist/rhel8/8.5"}]
	}`)

	out := Plan(Input{
		Prev: prev,
		Next: next,
		Published: []string{
			"/content/dist/rhel8/rhui/repodata/repomd.xml",
			"/content/dist/rhel8/rhui/iso/boot.iso",
			"/content/dist/rhel8/rhuix/file",
			"/content/dist/rhel8/rhui/repodata/repomd.xml",
		},
	})
	assert.Equal(t, []string{"/content/dist/rhel8/rhui/repodata/repomd.xml"}, out)
}

func TestExcluded(t *testing.T) {
	assert.True(t, Excluded("/content/a/iso/x", []string{"/iso/"}))
	assert.True(t, Excluded("/content/a/x.rpm", []string{`\.rpm$`}))
	assert.True(t, Excluded("/content/a[b/x", []string{"a[b"}))
	assert.False(t, Excluded("/content/a/x", []string{"/iso/"}))
	assert.False(t, Excluded("/content/a/x", nil))
}
