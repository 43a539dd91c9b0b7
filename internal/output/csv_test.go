package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

var sample = []listing.Record{{
	Name:     `Joe's "Famous" Pizza`,
	Phone:    "5125550100",
	Address:  "1 Main St, Austin, TX",
	Category: "Pizza, Italian",
	Keyword:  "pizza",
	Place:    "Austin, TX",
	Timezone: "CST",
	Status:   "Lead",
}}

func TestEncodeLeadFormat(t *testing.T) {
	t.Parallel()

	out, err := EncodeBytes(sample, LeadFormat)
	require.NoError(t, err)
	require.Equal(t,
		"Name,Phone,Address,Website,Category,Keyword,Location,TimeZone,IdStatus\n"+
			`"Joe's ""Famous"" Pizza",5125550100,"1 Main St, Austin, TX",,"Pizza, Italian",pizza,"Austin, TX",CST,Lead`+"\n",
		string(out))
}

func TestEncodeQuoteAll(t *testing.T) {
	t.Parallel()

	rec := listing.Record{Name: "Ace", Phone: "(512) 555-0100", Address: "1 Main St", Place: "Austin", Category: "plumber", Timezone: "PST", Status: "5"}
	out, err := EncodeBytes([]listing.Record{rec}, DirectoryFormat)
	require.NoError(t, err)
	require.Equal(t,
		`"BusinessName","Phone","Address","Location","Industry","TimeZone","IdStatus"`+"\n"+
			`"Ace","(512) 555-0100","1 Main St","Austin","plumber","PST","5"`+"\n",
		string(out))
}

func TestEncodeEmptyWritesHeaderOnly(t *testing.T) {
	t.Parallel()

	out, err := EncodeBytes(nil, LeadFormat)
	require.NoError(t, err)
	require.Equal(t, "Name,Phone,Address,Website,Category,Keyword,Location,TimeZone,IdStatus\n", string(out))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	many := make([]listing.Record, 15)
	require.Len(t, Preview(many, 10), 10)
	require.Len(t, Preview(sample, 10), 1)
	require.Equal(t, "Austin, TX", Preview(sample, 10)[0]["Location"])
	require.Equal(t, "Lead", Preview(sample, 1)[0]["IdStatus"])
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 9, 7, 5, 4, 0, time.UTC)
	require.Equal(t, "multi_session_progress_070504.csv", ProgressName(ts))
	require.Equal(t, "multi_session_final_20240309_070504.csv", FinalName(ts))
	require.Equal(t, "Reno NV-yellowpages-scraped-data.csv", PlaceName("Reno NV"))
}
