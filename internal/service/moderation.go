package service

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

// ModerationService screens message text against the configured deny-list.
// Matching is case-insensitive and whole-word, so "class" passes while
// "ass" alone does not. Stateless and safe for concurrent use.
type ModerationService interface {
	Check(text string) error
	Mask(text string) string
}

type moderationService struct {
	pattern *regexp.Regexp
	log     logger.Logger
}

func NewModerationService(denyList []string, log logger.Logger) ModerationService {
	s := &moderationService{log: log}
	if len(denyList) == 0 {
		return s
	}

	terms := make([]string, 0, len(denyList))
	for _, term := range denyList {
		if term = strings.TrimSpace(term); term != "" {
			terms = append(terms, regexp.QuoteMeta(strings.ToLower(term)))
		}
	}
	if len(terms) > 0 {
		s.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(terms, "|") + `)\b`)
	}
	return s
}

func (s *moderationService) Check(text string) error {
	if s.pattern == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if match := s.pattern.FindString(text); match != "" {
		return fmt.Errorf("%w: contains disallowed term %q", apperrors.ErrContentRejected, strings.ToLower(match))
	}
	return nil
}

// Mask replaces every deny-listed term with "***". Kept for surfaces that
// prefer redaction over rejection (e.g. previews of quoted content).
func (s *moderationService) Mask(text string) string {
	if s.pattern == nil {
		return text
	}
	return s.pattern.ReplaceAllString(text, "***")
}
