package normalize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/scangate/models"
)

// Per-tool parsers. Each maps one tool's JSON/NDJSON into canonical findings
// with tool-specific severity pre-classification applied. Parsers fill the
// free-text fields; category and finding_id are assigned by Normalize.

func parseOpengrep(data []byte) ([]models.Finding, error) {
	var payload struct {
		Results []struct {
			CheckID string `json:"check_id"`
			Path    string `json:"path"`
			Start   struct {
				Line int `json:"line"`
			} `json:"start"`
			Extra struct {
				Message  string `json:"message"`
				Severity string `json:"severity"`
				Fix      string `json:"fix"`
			} `json:"extra"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing opengrep JSON: %w", err)
	}
	out := make([]models.Finding, 0, len(payload.Results))
	for _, r := range payload.Results {
		out = append(out, models.Finding{
			Severity:          models.MapSeverity(strings.TrimSpace(r.Extra.Severity)),
			RuleID:            strings.TrimSpace(r.CheckID),
			Title:             strings.TrimSpace(r.CheckID),
			Description:       strings.TrimSpace(r.Extra.Message),
			Remediation:       strings.TrimSpace(r.Extra.Fix),
			AffectedComponent: repoRelative(r.Path),
			FilePath:          repoRelative(r.Path),
			LineNumber:        r.Start.Line,
		})
	}
	return out, nil
}

func parseGrype(data []byte) ([]models.Finding, error) {
	var payload struct {
		Matches []struct {
			Vulnerability struct {
				ID          string `json:"id"`
				Severity    string `json:"severity"`
				Description string `json:"description"`
				Fix         struct {
					Versions []string `json:"versions"`
				} `json:"fix"`
				CVSS []struct {
					Metrics struct {
						BaseScore float64 `json:"baseScore"`
					} `json:"metrics"`
				} `json:"cvss"`
			} `json:"vulnerability"`
			Artifact struct {
				Name      string `json:"name"`
				Version   string `json:"version"`
				Locations []struct {
					Path string `json:"path"`
				} `json:"locations"`
			} `json:"artifact"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing grype JSON: %w", err)
	}
	out := make([]models.Finding, 0, len(payload.Matches))
	for _, m := range payload.Matches {
		sev := models.MapSeverity(strings.TrimSpace(m.Vulnerability.Severity))
		if strings.TrimSpace(m.Vulnerability.Severity) == "" || strings.EqualFold(m.Vulnerability.Severity, "unknown") {
			// No label from the feed; fall back to the highest CVSS base score.
			best := 0.0
			for _, c := range m.Vulnerability.CVSS {
				if c.Metrics.BaseScore > best {
					best = c.Metrics.BaseScore
				}
			}
			sev = models.MapCVSS(best)
		}

		component := strings.Trim(strings.TrimSpace(m.Artifact.Name)+"@"+strings.TrimSpace(m.Artifact.Version), "@")
		filePath := ""
		if len(m.Artifact.Locations) > 0 {
			filePath = repoRelative(m.Artifact.Locations[0].Path)
		}
		if filePath == "" {
			filePath = component
		}
		remediation := ""
		if len(m.Vulnerability.Fix.Versions) > 0 {
			remediation = "upgrade to " + strings.Join(m.Vulnerability.Fix.Versions, ", ")
		}

		out = append(out, models.Finding{
			Severity:          sev,
			RuleID:            strings.TrimSpace(m.Vulnerability.ID),
			Title:             strings.TrimSpace(m.Vulnerability.ID) + " in " + component,
			Description:       strings.TrimSpace(m.Vulnerability.Description),
			AffectedComponent: component,
			Remediation:       remediation,
			FilePath:          filePath,
		})
	}
	return out, nil
}

func parseTrivy(data []byte) ([]models.Finding, error) {
	var payload struct {
		Results []struct {
			Target            string `json:"Target"`
			Misconfigurations []struct {
				ID          string `json:"ID"`
				Title       string `json:"Title"`
				Description string `json:"Description"`
				Severity    string `json:"Severity"`
				Resolution  string `json:"Resolution"`
				IacMetadata struct {
					StartLine int `json:"StartLine"`
				} `json:"IacMetadata"`
			} `json:"Misconfigurations"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing trivy JSON: %w", err)
	}
	var out []models.Finding
	for _, r := range payload.Results {
		for _, m := range r.Misconfigurations {
			title := strings.TrimSpace(m.Title)
			if title == "" {
				title = strings.TrimSpace(m.ID)
			}
			out = append(out, models.Finding{
				Severity:          models.MapSeverity(strings.TrimSpace(m.Severity)),
				RuleID:            strings.TrimSpace(m.ID),
				Title:             title,
				Description:       strings.TrimSpace(m.Description),
				Remediation:       strings.TrimSpace(m.Resolution),
				AffectedComponent: repoRelative(r.Target),
				FilePath:          repoRelative(r.Target),
				LineNumber:        m.IacMetadata.StartLine,
			})
		}
	}
	return out, nil
}

// parseTrufflehog reads NDJSON, one secret candidate per line. Raw secret
// material is never carried into findings, only detector identity and
// location.
func parseTrufflehog(data []byte) ([]models.Finding, error) {
	var out []models.Finding
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	malformed := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec struct {
			DetectorName   string         `json:"DetectorName"`
			Verified       bool           `json:"Verified"`
			SourceMetadata map[string]any `json:"SourceMetadata"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed++
			continue
		}
		file, lineNo := trufflehogLocation(rec.SourceMetadata)
		sev := models.SeverityMedium
		desc := "unverified secret candidate"
		if rec.Verified {
			sev = models.SeverityCritical
			desc = "verified live credential"
		}
		detector := strings.TrimSpace(rec.DetectorName)
		if detector == "" {
			detector = "secret"
		}
		out = append(out, models.Finding{
			Severity:          sev,
			RuleID:            "secret." + strings.ToLower(detector),
			Title:             detector + " credential in " + file,
			Description:       desc + " (" + detector + ")",
			Remediation:       "revoke and rotate the credential, then purge it from history",
			AffectedComponent: repoRelative(file),
			FilePath:          repoRelative(file),
			LineNumber:        lineNo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning trufflehog NDJSON: %w", err)
	}
	if len(out) == 0 && malformed > 0 {
		return nil, fmt.Errorf("all %d trufflehog lines malformed", malformed)
	}
	return out, nil
}

func trufflehogLocation(meta map[string]any) (string, int) {
	data, ok := meta["Data"].(map[string]any)
	if !ok {
		return "", 0
	}
	fs, ok := data["Filesystem"].(map[string]any)
	if !ok {
		return "", 0
	}
	file, _ := fs["file"].(string)
	line := 0
	if v, ok := fs["line"].(float64); ok {
		line = int(v)
	}
	return file, line
}

// repoRelative strips container mount prefixes and leading slashes so paths
// are stable regardless of local vs docker execution.
func repoRelative(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "/scan/")
	p = strings.TrimPrefix(p, "scan/")
	return strings.TrimLeft(p, "/")
}
