package offsite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, object, err := ParseURI("gs://backups/incomes/incomes_20240301_020000.db")
	require.NoError(t, err)
	assert.Equal(t, "backups", bucket)
	assert.Equal(t, "incomes/incomes_20240301_020000.db", object)

	for _, bad := range []string{"s3://b/o", "gs://bucket", "gs://bucket/", "gs:///obj", ""} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestObjectName(t *testing.T) {
	u := &GCSUploader{bucket: "b", prefix: "nightly"}
	assert.Equal(t, "nightly/incomes_1.db", u.ObjectName("/var/backups/incomes_1.db"))

	u.prefix = ""
	assert.Equal(t, "incomes_1.db", u.ObjectName("/var/backups/incomes_1.db"))
}
