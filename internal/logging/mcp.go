package logging

// SetupMCPMode configures logging for stdio MCP serving. stdout carries
// JSON-RPC frames and some clients treat stderr noise as a protocol
// error, so logs go to the file only.
func SetupMCPMode(level, filePath string) (func(), error) {
	if filePath == "" {
		filePath = DefaultLogFile()
	}
	_, cleanup, err := Setup(Config{
		Level:         level,
		FilePath:      filePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	if err != nil {
		return nil, err
	}
	return cleanup, nil
}
