package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
)

// ClassifierConfig describes the three watched roots and their filename rules
type ClassifierConfig struct {
	TeamsDir         string
	TasksDir         string
	ConversationsDir string

	// TeamConfigFile is the only file name under the teams root that counts
	TeamConfigFile string

	// TaskLockSuffix marks lock files under the tasks root
	TaskLockSuffix string

	// IgnorePatterns are matched against the path relative to its root
	IgnorePatterns []string
}

type classifierRoot struct {
	dir      string
	category model.UpdateCategory
}

// Classifier maps a changed path to its update category. The result depends
// only on the path, never on event ordering or timing.
type Classifier struct {
	roots          []classifierRoot
	teamConfigFile string
	taskLockSuffix string
	ignore         *patternmatcher.PatternMatcher
}

func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.TeamConfigFile == "" {
		return nil, fmt.Errorf("team config file name must not be empty")
	}

	c := &Classifier{
		teamConfigFile: cfg.TeamConfigFile,
		taskLockSuffix: cfg.TaskLockSuffix,
	}

	for _, root := range []classifierRoot{
		{cfg.TeamsDir, model.TeamsChanged},
		{cfg.TasksDir, model.TasksChanged},
		{cfg.ConversationsDir, model.ConversationsChanged},
	} {
		if root.dir == "" {
			continue
		}
		root.dir = filepath.Clean(root.dir)
		c.roots = append(c.roots, root)
	}

	if len(cfg.IgnorePatterns) > 0 {
		pm, err := patternmatcher.New(cfg.IgnorePatterns)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore patterns: %w", err)
		}
		c.ignore = pm
	}

	return c, nil
}

// Classify returns the category for path, or false when the change is not
// relevant to any subscriber
func (c *Classifier) Classify(path string) (model.UpdateCategory, bool) {
	path = filepath.Clean(path)

	for _, root := range c.roots {
		rel, ok := relativeTo(root.dir, path)
		if !ok {
			continue
		}

		if c.ignored(rel) {
			return 0, false
		}

		base := filepath.Base(path)
		switch root.category {
		case model.TeamsChanged:
			if base != c.teamConfigFile {
				return 0, false
			}
			return model.TeamsChanged, true
		case model.TasksChanged:
			if c.taskLockSuffix != "" && strings.HasSuffix(base, c.taskLockSuffix) {
				return 0, false
			}
			return model.TasksChanged, true
		default:
			return root.category, true
		}
	}

	return 0, false
}

func (c *Classifier) ignored(rel string) bool {
	if c.ignore == nil {
		return false
	}
	matched, err := c.ignore.MatchesOrParentMatches(rel)
	return err == nil && matched
}

// Roots returns the configured root directories in classification order
func (c *Classifier) Roots() []string {
	dirs := make([]string, 0, len(c.roots))
	for _, root := range c.roots {
		dirs = append(dirs, root.dir)
	}
	return dirs
}

// relativeTo returns path relative to dir when path is strictly below dir
func relativeTo(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
