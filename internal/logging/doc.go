// Package logging sets up structured JSON logging for docrag with a
// size-rotating log file under ~/.docrag/logs and optional stderr output.
package logging
