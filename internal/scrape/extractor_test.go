package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	t.Run("accepts well formed rows", func(t *testing.T) {
		rows := [][]string{
			{"Alice Writes", "extra", "1,234", "5.6%"},
			{"Bob's Letter", "extra", "89", "0.4%"},
		}

		records := parseRows(rows)
		require.Len(t, records, 2)
		assert.Equal(t, PartnerRecord{CreatorName: "Alice Writes", SubscriberCount: 1234, ConversionRate: "5.6%"}, records[0])
		assert.Equal(t, PartnerRecord{CreatorName: "Bob's Letter", SubscriberCount: 89, ConversionRate: "0.4%"}, records[1])
	})

	t.Run("skips rows with fewer than four cells", func(t *testing.T) {
		rows := [][]string{
			{"Header Only"},
			{"Alice", "x", "10"},
			{"Bob", "x", "20", "1%"},
		}

		records := parseRows(rows)
		require.Len(t, records, 1)
		assert.Equal(t, "Bob", records[0].CreatorName)
	})

	t.Run("skips rows with blank required cells", func(t *testing.T) {
		rows := [][]string{
			{"", "x", "10", "1%"},
			{"Alice", "x", "  ", "1%"},
			{"Bob", "x", "20", ""},
			{"Carol", "x", "30", "2%"},
		}

		records := parseRows(rows)
		require.Len(t, records, 1)
		assert.Equal(t, "Carol", records[0].CreatorName)
	})

	t.Run("malformed count degrades to zero without dropping the row", func(t *testing.T) {
		rows := [][]string{
			{"Alice", "x", "n/a", "1%"},
		}

		records := parseRows(rows)
		require.Len(t, records, 1)
		assert.Equal(t, 0, records[0].SubscriberCount)
	})

	t.Run("empty grid yields no records", func(t *testing.T) {
		assert.Empty(t, parseRows(nil))
		assert.Empty(t, parseRows([][]string{}))
	})
}
