package partition

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, data string) string {
	t.Helper()
	fn := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(fn, []byte(data), 0o644))
	return fn
}

func read(t *testing.T, fn string) string {
	t.Helper()
	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	return string(b)
}

func TestSplit_GroupsByKeyInFirstAppearanceOrder(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "#CHROM\tPOS\tID\n"+
		"chr2\t5\ta\n"+
		"chr1\t1\tb\n"+
		"chr2\t3\tc\n"+
		"chr1\t9\td\n"+
		"chrX\t7\te\n")

	parts, header, err := Split(context.Background(), src, DefaultNaming(dir, src, "run1"))
	require.NoError(t, err)
	require.Equal(t, 1, header.Len())

	require.Len(t, parts, 3)
	require.Equal(t, []string{"chr2", "chr1", "chrX"}, []string{parts[0].Key, parts[1].Key, parts[2].Key})
	require.Equal(t, []int{2, 2, 1}, []int{parts[0].Records, parts[1].Records, parts[2].Records})
	require.Equal(t, filepath.Join(dir, "in.run1.tmp.chr2.vcf"), parts[0].Path)

	// Stable grouping: within-key order follows the source.
	require.Equal(t, "#CHROM\tPOS\tID\nchr2\t5\ta\nchr2\t3\tc\n", read(t, parts[0].Path))
	require.Equal(t, "#CHROM\tPOS\tID\nchr1\t1\tb\nchr1\t9\td\n", read(t, parts[1].Path))
	require.Equal(t, "#CHROM\tPOS\tID\nchrX\t7\te\n", read(t, parts[2].Path))
	require.Equal(t, []string{parts[0].Path, parts[1].Path, parts[2].Path}, Paths(parts))
}

func TestSplit_CopiesWholeHeaderBlock(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "##fileformat=VCFv4.2\n#CHROM\tPOS\nchr1\t1\n")
	parts, header, err := Split(context.Background(), src, DefaultNaming(dir, src, "r"))
	require.NoError(t, err)
	require.Equal(t, 2, header.Len())
	require.Equal(t, "##fileformat=VCFv4.2\n#CHROM\tPOS\nchr1\t1\n", read(t, parts[0].Path))
}

func TestSplit_NoRecords(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "#CHROM\tPOS\n")
	parts, header, err := Split(context.Background(), src, DefaultNaming(dir, src, "r"))
	require.NoError(t, err)
	require.Empty(t, parts)
	require.Equal(t, 1, header.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partition files expected")
}

func TestSplit_ConcatenationIsStablePermutation(t *testing.T) {
	dir := t.TempDir()
	keys := []string{"chr3", "chr1", "chr3", "chr2", "chr1", "chr1", "chr3"}
	var sb strings.Builder
	sb.WriteString("#CHROM\tPOS\n")
	for i, k := range keys {
		sb.WriteString(k + "\t" + string(rune('a'+i)) + "\n")
	}
	src := write(t, dir, "in.vcf", sb.String())

	parts, _, err := Split(context.Background(), src, DefaultNaming(dir, src, "r"))
	require.NoError(t, err)

	var got []string
	for _, p := range parts {
		lines := strings.Split(strings.TrimSuffix(read(t, p.Path), "\n"), "\n")
		got = append(got, lines[1:]...)
	}
	require.Equal(t, []string{
		"chr3\ta", "chr3\tc", "chr3\tg",
		"chr1\tb", "chr1\te", "chr1\tf",
		"chr2\td",
	}, got)
}

func TestSplit_NamingCollision(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "#C\nchr1/a\t1\nchr1_a\t2\n")
	_, _, err := Split(context.Background(), src, DefaultNaming(dir, src, "r"))
	require.ErrorContains(t, err, "both map to")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "partial partitions must be removed")
}

func TestSplit_CreateFailureRemovesPartials(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "#C\nchr1\t1\nchr2\t2\n")
	naming := func(key string) string {
		if key == "chr2" {
			return filepath.Join(dir, "missing", "chr2.vcf")
		}
		return filepath.Join(dir, key+".vcf")
	}
	_, _, err := Split(context.Background(), src, naming)
	require.ErrorContains(t, err, `create partition for "chr2"`)
	require.NoFileExists(t, filepath.Join(dir, "chr1.vcf"))
}

func TestSplit_MissingSource(t *testing.T) {
	_, _, err := Split(context.Background(), filepath.Join(t.TempDir(), "none.vcf"), func(string) string { return "" })
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplit_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := write(t, dir, "in.vcf", "#C\nchr1\t1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Split(ctx, src, DefaultNaming(dir, src, "r"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNaming(t *testing.T) {
	require.Equal(t, "sample", Stem("/x/y/sample.vcf.gz"))
	require.Equal(t, "sample", Stem("sample.vcf"))
	require.Equal(t, "sample.txt", Stem("sample.txt"))
	require.Equal(t, "chr1_a_b", SanitizeKey("chr1/a b"))
	require.Equal(t, "_", SanitizeKey(""))

	a, b := NewRunID(), NewRunID()
	require.NotEqual(t, a, b)
	require.Len(t, a, 26)
}
