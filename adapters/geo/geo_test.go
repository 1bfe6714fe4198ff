package geo

import (
	"bytes"
	"compress/gzip"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seriesFixture = `!Series_title	"PKC inhibition in cultured cells"
!Series_platform_id	"GPL570"
!Sample_title	"ctrl_1"	"ctrl_2"	"inh_1"	"inh_2"
!Sample_geo_accession	"GSM1"	"GSM2"	"GSM3"	"GSM4"
!Sample_source_name_ch1	"cells"	"cells"	"cells"	"cells"
!Sample_characteristics_ch1	"treatment: vehicle"	"treatment: vehicle"	"treatment: PKC inhibitor"	"treatment: PKC inhibitor"
!Sample_characteristics_ch1	"time: 24h"	"time: 24h"	"time: 24h"	"time: 24h"
!series_matrix_table_begin
"ID_REF"	"GSM1"	"GSM2"	"GSM3"	"GSM4"
"1007_s_at"	10.5	10.7	8.1	8.3
"1053_at"	5.0	5.2	null	5.1
"117_at"	7	7.1	7.2	7.3
!series_matrix_table_end
`

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseSeriesMatrix(t *testing.T) {
	sm, err := ParseSeriesMatrix([]byte(seriesFixture))
	require.NoError(t, err)

	assert.Equal(t, "GPL570", sm.Platform)
	require.Len(t, sm.Samples, 4)
	assert.Equal(t, "GSM3", sm.Samples[2].ID)
	assert.Equal(t, "inh_1", sm.Samples[2].Title)
	assert.Equal(t, "cells", sm.Samples[2].Source)
	assert.Equal(t, "treatment: PKC inhibitor; time: 24h", sm.Samples[2].Characteristics)

	assert.Equal(t, []string{"1007_s_at", "1053_at", "117_at"}, sm.Probes)
	assert.Equal(t, []float64{10.5, 10.7, 8.1, 8.3}, sm.Values[0])
	assert.True(t, math.IsNaN(sm.Values[1][2]), "null cell is missing")
}

func TestParseSeriesMatrix_Malformed(t *testing.T) {
	_, err := ParseSeriesMatrix([]byte("!Series_title\t\"x\"\n"))
	assert.ErrorContains(t, err, "no expression table")

	ragged := "!series_matrix_table_begin\n\"ID_REF\"\t\"GSM1\"\t\"GSM2\"\n\"p1\"\t1\n!series_matrix_table_end\n"
	_, err = ParseSeriesMatrix([]byte(ragged))
	assert.ErrorContains(t, err, "fields")

	empty := "!series_matrix_table_begin\n\"ID_REF\"\t\"GSM1\"\n!series_matrix_table_end\n"
	_, err = ParseSeriesMatrix([]byte(empty))
	assert.ErrorContains(t, err, "no rows")
}

func TestParsePlatformAnnotation_SOFT(t *testing.T) {
	soft := "^PLATFORM = GPL570\n!Platform_title = test\n!platform_table_begin\n" +
		"ID\tGB_ACC\tGene Symbol\n" +
		"1007_s_at\tU48705\tDDR1 /// MIR4640\n" +
		"1053_at\tM87338\tRFC2\n" +
		"117_at\tX51757\t\n" +
		"!platform_table_end\n"
	m, err := ParsePlatformAnnotation([]byte(soft))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1007_s_at": "DDR1", "1053_at": "RFC2"}, m)
}

func TestParsePlatformAnnotation_GeneAssignment(t *testing.T) {
	tsv := "# comment\nID\tgene_assignment\n" +
		"7892501\tNM_001 // PRKCA // protein kinase C alpha // 17q24 /// NM_002 // OTHER // x\n" +
		"7892502\t---\n"
	m, err := ParsePlatformAnnotation([]byte(tsv))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7892501": "PRKCA"}, m)
}

func TestParsePlatformAnnotation_NoSymbolColumn(t *testing.T) {
	_, err := ParsePlatformAnnotation([]byte("ID\tDescription\np1\tsomething\n"))
	assert.ErrorContains(t, err, "gene symbol column")
}

func TestDecompress(t *testing.T) {
	out, err := Decompress(gz(t, []byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out, err = Decompress([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient(3, time.Millisecond, time.Second, zap.NewNop())
	data, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(2, time.Millisecond, time.Second, nil)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(3, time.Millisecond, time.Second, nil)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
