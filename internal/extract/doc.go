// Text extraction supports plain text, markdown, HTML, PDF and DOCX.
//
// The Registry picks an extractor by file extension, sniffs the content
// with mimetype to reject files whose bytes contradict the extension, and
// returns UTF-8 text with normalised newlines. Non UTF-8 text is transcoded
// using the charset detection from golang.org/x/net/html/charset.
//
//	reg := extract.New([]string{"pdf", "docx", "txt", "md", "html"})
//	content, err := reg.ExtractFile(ctx, "docs/manual.pdf")
//
// Errors are *types.Error values: unsupported formats have KindUnsupported,
// unreadable or mismatched content has KindValidation.
package extract
