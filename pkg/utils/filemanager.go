// =============================================================================
// CFDI Control - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the CLI and the
// template writer, including:
//   - Input discovery (files and directories of CFDI XML documents)
//   - File archival (moving processed XML files)
//   - Error and summary log generation
//   - Output file naming
//
// ARCHIVAL STRATEGY:
//   - Input XML files are moved to archive_dir only after a successful run
//   - Documents that failed to parse stay where they are
//   - Error logs are created in the output directory
//
// =============================================================================

package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the second-resolution stamp used in generated names.
const TimestampLayout = "20060102_150405"

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles archival of processed input files.
type FileManager struct {
	// OutputDir is the directory where logs are placed.
	OutputDir string

	// ArchiveDir is the directory for archived XML documents.
	ArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: xml_archive/2024/01/15/factura.xml
	UseTimestampSubdirs bool

	// Now is the clock used for archive subdirectories.
	Now func() time.Time
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(outputDir, archiveDir string) *FileManager {
	return &FileManager{
		OutputDir:  outputDir,
		ArchiveDir: archiveDir,
		Now:        time.Now,
	}
}

// EnsureDirectories creates the output and archive directories.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.OutputDir, fm.ArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverXMLFiles expands command line arguments into document paths.
//
// Regular files are kept as given, whatever their extension. Directories are
// scanned (not recursively) for *.xml files, case-insensitive. The result is
// sorted and free of duplicates so a run is reproducible.
//
// RETURNS:
//   - The document paths.
//   - An error if an argument does not exist or a directory cannot be read.
func DiscoverXMLFiles(args []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan input directory %s: %w", arg, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
				continue
			}
			add(filepath.Join(arg, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves a processed XML document into the archive. With
// UseTimestampSubdirs the document lands in ArchiveDir/YYYY/MM/DD. A name
// already taken in the archive gets a numeric suffix.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if the document could not be moved.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	dir := fm.ArchiveDir
	if fm.UseTimestampSubdirs {
		dir = filepath.Join(dir, filepath.FromSlash(fm.Now().Format("2006/01/02")))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	target := UniquePath(filepath.Join(dir, filepath.Base(filePath)))
	if err := moveFile(filePath, target); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", filepath.Base(filePath), err)
	}
	return target, nil
}

// moveFile renames src to dst. When rename is not possible (archive on
// another volume) the content is copied with src's permissions and src is
// removed afterwards.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// CleanOldArchives deletes archived files last modified before now-maxAge
// and then prunes the dated directories left empty. The archive root itself
// is kept.
//
// RETURNS:
//   - The number of files removed.
//   - An error if the archive cannot be walked or a file cannot be removed.
func CleanOldArchives(archiveDir string, maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0
	var dirs []string

	walkErr := filepath.WalkDir(archiveDir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if path != archiveDir {
				dirs = append(dirs, path)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if walkErr != nil {
		return removed, fmt.Errorf("failed to clean archives: %w", walkErr)
	}

	// Deepest first, so a day directory goes before its month.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}

	return removed, nil
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName expands a file name format.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - now as YYYYMMDD_HHMMSS
//               {date}      - now as YYYYMMDD
//               {time}      - now as HHMMSS
//             plus one {key} per entry in params.
//   - params: A map of placeholder values.
//   - now: The time used for the time based placeholders.
//
// EXAMPLE:
//   format: "{stem}_CFDI_{year}_{month}_{timestamp}.xlsx"
//   params: {"stem": "Control", "year": "2024", "month": "01"}
//   output: "Control_CFDI_2024_01_20240115_143022.xlsx"
func GenerateOutputFileName(format string, params map[string]string, now time.Time) string {
	replacements := map[string]string{
		"{timestamp}": now.Format(TimestampLayout),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	if strings.Contains(format, "{uuid}") {
		replacements["{uuid}"] = uuid.New().String()
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	// Sorted so the result never depends on map order.
	placeholders := make([]string, 0, len(replacements))
	for p := range replacements {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)

	pairs := make([]string, 0, 2*len(placeholders))
	for _, p := range placeholders {
		pairs = append(pairs, p, replacements[p])
	}

	return strings.NewReplacer(pairs...).Replace(format)
}

// UniquePath returns path if nothing exists there, otherwise the first
// "<stem>_<n><ext>" that is free.
func UniquePath(path string) string {
	if !FileExists(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !FileExists(candidate) {
			return candidate
		}
	}
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry is one line of the error log.
type ErrorLogEntry struct {
	Timestamp    time.Time
	FileName     string
	ErrorType    string
	ErrorMessage string
	FieldName    string
	FieldValue   string
}

// logRule separates the sections of the generated text files.
var logRule = strings.Repeat("=", 80)

// WriteErrorLog writes entries to error_log_<timestamp>.txt in outputDir,
// grouped by document in order of first appearance. Entries without a file
// name (run level failures) are listed under "[lote]".
//
// RETURNS:
//   - The path to the error log file, or "" when there is nothing to write.
//   - An error if writing fails.
func WriteErrorLog(entries []ErrorLogEntry, outputDir string, now time.Time) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var order []string
	byFile := map[string][]ErrorLogEntry{}
	for _, e := range entries {
		name := e.FileName
		if name == "" {
			name = "lote"
		}
		if _, ok := byFile[name]; !ok {
			order = append(order, name)
		}
		byFile[name] = append(byFile[name], e)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CFDI Control - Error Log\n%s\n", logRule)
	fmt.Fprintf(&b, "Generated:    %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Errors: %d\n", len(entries))
	fmt.Fprintf(&b, "Documents:    %d\n\n", len(order))

	for _, name := range order {
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, e := range byFile[name] {
			fmt.Fprintf(&b, "  %s  %-18s %s\n", e.Timestamp.Format("15:04:05"), e.ErrorType, e.ErrorMessage)
			if e.FieldName != "" {
				fmt.Fprintf(&b, "  %8s  %-18s field=%s value=%q\n", "", "", e.FieldName, e.FieldValue)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(logRule + "\n")

	path := UniquePath(filepath.Join(outputDir, fmt.Sprintf("error_log_%s.txt", now.Format(TimestampLayout))))
	if err := writeTextFile(path, b.String()); err != nil {
		return "", fmt.Errorf("failed to write error log: %w", err)
	}
	return path, nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary describes one run for processing_summary_<timestamp>.txt.
type ProcessingSummary struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	TemplatePath string
	OutputFile   string
	Year         int
	Month        int

	TotalFiles      int
	ParseFailures   int
	SuccessfulFiles int
	FailedFiles     int
	RecordsWritten  int

	TotalAmount string
	Currency    string
	DateStart   string
	DateEnd     string

	Errors []string
}

// WriteSummaryLog writes summary to processing_summary_<end time>.txt in
// outputDir.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CFDI Control - Processing Summary\n%s\n", logRule)

	section := func(title string, rows [][2]string) {
		fmt.Fprintf(&b, "\n%s\n", title)
		for _, r := range rows {
			fmt.Fprintf(&b, "  %-16s %s\n", r[0]+":", r[1])
		}
	}

	section("Run", [][2]string{
		{"Run ID", summary.RunID},
		{"Started", summary.StartTime.Format("2006-01-02 15:04:05")},
		{"Finished", summary.EndTime.Format("2006-01-02 15:04:05")},
		{"Duration", summary.EndTime.Sub(summary.StartTime).String()},
		{"Template", summary.TemplatePath},
		{"Period", fmt.Sprintf("%d-%02d", summary.Year, summary.Month)},
		{"Output", summary.OutputFile},
	})
	section("Statistics", [][2]string{
		{"Documents", strconv.Itoa(summary.TotalFiles)},
		{"Parse failures", strconv.Itoa(summary.ParseFailures)},
		{"Accepted", strconv.Itoa(summary.SuccessfulFiles)},
		{"Rejected", strconv.Itoa(summary.FailedFiles)},
		{"Rows written", strconv.Itoa(summary.RecordsWritten)},
		{"Total amount", strings.TrimSpace(summary.TotalAmount + " " + summary.Currency)},
		{"Date range", summary.DateStart + " - " + summary.DateEnd},
	})

	if len(summary.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d)\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", logRule)

	path := UniquePath(filepath.Join(outputDir,
		fmt.Sprintf("processing_summary_%s.txt", summary.EndTime.Format(TimestampLayout))))
	if err := writeTextFile(path, b.String()); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// writeTextFile creates path, and its directory, with content.
func writeTextFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// FileExists reports whether something exists at path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
