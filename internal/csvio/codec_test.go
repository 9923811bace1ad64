package csvio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"incomes/internal/core"
)

func TestEncode(t *testing.T) {
	records := []core.IncomeRecord{
		{ID: 2, SourceName: "银行卡", Amount: core.Money{Cents: 100000}, Date: core.NewDate(2024, 1, 5), Note: "salary"},
		{ID: 1, SourceName: "微信", Amount: core.Money{Cents: 50}, Date: core.NewDate(2023, 12, 31)},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, records))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"), "export must start with a UTF-8 BOM")
	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\r\n"), "\r\n")
	assert.Equal(t, []string{
		"date,source,amount,note",
		"2024-01-05,银行卡,1000.00,salary",
		"2023-12-31,微信,0.50,",
	}, lines)
}

func TestDecode_ChineseHeaderScenario(t *testing.T) {
	data := []byte("日期,来源,金额,备注\n2024-01-05,银行卡,1000,salary\n2024/1/5,银行卡,1000,\n")

	results, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first, second := results[0], results[1]
	require.Nil(t, first.Err)
	require.Nil(t, second.Err)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, 3, second.Line)
	assert.Equal(t, first.Row.Date, second.Row.Date)
	assert.Equal(t, first.Row.Amount, second.Row.Amount)
	assert.Equal(t, "salary", first.Row.Note)
	assert.Equal(t, "", second.Row.Note)
}

func TestDecode_RowErrors(t *testing.T) {
	data := []byte(strings.Join([]string{
		"date,source,amount,note",
		",银行卡,1000,",
		"2024-13-01,银行卡,1000,",
		"2024-02-30,银行卡,1000,",
		"2024-01-05,银行卡,0,",
		"2024-01-05,银行卡,-5,",
		"2024-01-05,银行卡,abc,",
		"2024-01-05,银行卡",
		"2024-01-05,银行卡,12.5,ok",
	}, "\n"))

	results, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, results, 8, "one result per data row")

	want := []struct {
		reason string
		raw    string
	}{
		{ReasonMissingField, ",银行卡,1000,"},
		{ReasonInvalidDate, "2024-13-01"},
		{ReasonInvalidDate, "2024-02-30"},
		{ReasonInvalidAmount, "0"},
		{ReasonInvalidAmount, "-5"},
		{ReasonInvalidAmount, "abc"},
		{ReasonMissingField, "2024-01-05,银行卡"},
	}
	for i, w := range want {
		res := results[i]
		require.NotNil(t, res.Err, "row %d", i+2)
		assert.Equal(t, i+2, res.Err.Line)
		assert.Equal(t, w.reason, res.Err.Reason)
		assert.Equal(t, w.raw, res.Err.Raw)
	}

	last := results[7]
	require.Nil(t, last.Err)
	assert.Equal(t, int64(1250), last.Row.Amount.Cents)
}

func TestDecode_BlankDateRowError(t *testing.T) {
	results, err := Decode([]byte("date,source,amount,note\n,银行卡,1000,\n"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, 2, results[0].Err.Line)
	assert.Equal(t, ReasonMissingField, results[0].Err.Reason)
	assert.Equal(t, "Row 2: missing required field (,银行卡,1000,)", results[0].Err.Error())
}

func TestDecode_Encodings(t *testing.T) {
	plain := "日期,来源,金额,备注\n2024-03-01,股票,88.8,分红\n"

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(plain))
	require.NoError(t, err)

	inputs := map[string][]byte{
		"utf8":          []byte(plain),
		"utf8 with bom": append([]byte("\ufeff"), plain...),
		"gbk":           gbk,
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			results, err := Decode(data)
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.Nil(t, results[0].Err)
			assert.Equal(t, "股票", results[0].Row.SourceName)
			assert.Equal(t, "分红", results[0].Row.Note)
			assert.Equal(t, int64(8880), results[0].Row.Amount.Cents)
		})
	}
}

func TestDecode_LossyGBKFallback(t *testing.T) {
	// 0xFF is neither valid UTF-8 nor a GBK lead byte.
	data := []byte("date,source,amount,note\n2024-01-01,bank,10,\xff\n")
	results, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0].Err)
	assert.Equal(t, "\ufffd", results[0].Row.Note)
}

func TestDecode_HeaderOnlyAndEmpty(t *testing.T) {
	results, err := Decode([]byte("date,source,amount,note\n"))
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEncodeDecodeStable(t *testing.T) {
	input := []byte("h1,h2,h3,h4\n2024/1/5,银行卡,1000,a\n2024-2-29,微信,0.1,\n")
	first, err := Decode(input)
	require.NoError(t, err)

	var records []core.IncomeRecord
	for _, r := range first {
		require.Nil(t, r.Err)
		records = append(records, core.IncomeRecord{SourceName: r.Row.SourceName, Date: r.Row.Date, Amount: r.Row.Amount, Note: r.Row.Note})
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, records))
	assert.Contains(t, buf.String(), "2024-01-05,银行卡,1000.00,a")
	assert.Contains(t, buf.String(), "2024-02-29,微信,0.10,")

	second, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Row, second[i].Row)
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-01-05": "2024-01-05",
		"2024/1/5":   "2024-01-05",
		"2024/12/31": "2024-12-31",
		"2024-1-05":  "2024-01-05",
	}
	for in, want := range cases {
		d, err := NormalizeDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.String())
	}

	for _, bad := range []string{"2024.01.05", "05/01", "2023/2/29", "2024/001/5", "abc"} {
		_, err := NormalizeDate(bad)
		assert.Error(t, err, bad)
	}
}
