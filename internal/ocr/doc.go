// Package ocr reads the text printed on slide label images using Tesseract.
//
// Tesseract and the language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Labels are small and often low contrast, so the image is converted to
// grayscale and upscaled to at least MinTextHeight pixels before recognition.
//
// A Reader holds no Tesseract state between calls; each Text call creates and
// closes its own client, so a Reader is safe for concurrent use.
package ocr
