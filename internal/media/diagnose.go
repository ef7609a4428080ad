package media

import "os/exec"

// Diagnose lists the external tools that cannot be found. yt-dlp needs
// ffmpeg for the MP3 conversion step.
func (y *YTDLP) Diagnose() []string {
	var missing []string
	for _, tool := range []string{y.binary, "ffmpeg"} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}
