package github

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// This file keeps only the branch operations the pr-open stage worker's
// forge.Client adapter actually calls: listing branches and deleting the
// ones a merged job left behind. Branch protection-rule inspection,
// staleness reporting, and existence probing aren't exercised by anything
// in this module and were trimmed rather than carried as dead surface.

// BranchInfo represents a GitHub branch.
//
//nolint:govet // Logical grouping preferred over memory optimization
type BranchInfo struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
	Commit    struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// ListBranches lists all branches in the repository.
func (c *Client) ListBranches(ctx context.Context) ([]BranchInfo, error) {
	endpoint := fmt.Sprintf("/repos/%s/branches", c.RepoPath())

	// Use pagination to get all branches
	args := []string{"api", endpoint, "--paginate"}
	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	var branches []BranchInfo
	if err := json.Unmarshal(output, &branches); err != nil {
		return nil, fmt.Errorf("failed to parse branches: %w", err)
	}

	return branches, nil
}

// DeleteBranch deletes a remote branch.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	endpoint := fmt.Sprintf("/repos/%s/git/refs/heads/%s", c.RepoPath(), branch)
	_, err := c.APIDelete(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	c.logger.Info("Deleted branch %s from %s", branch, c.RepoPath())
	return nil
}

// IsBranchMerged checks if a branch has been merged to the target branch.
func (c *Client) IsBranchMerged(ctx context.Context, branch, target string) (bool, error) {
	if target == "" {
		target = DefaultBranch
	}

	// Compare the branches - if the branch is behind or equal, it's merged
	endpoint := fmt.Sprintf("/repos/%s/compare/%s...%s", c.RepoPath(), target, branch)
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return false, fmt.Errorf("failed to compare branches: %w", err)
	}

	var comparison struct {
		Status       string `json:"status"`
		AheadBy      int    `json:"ahead_by"`
		BehindBy     int    `json:"behind_by"`
		TotalCommits int    `json:"total_commits"`
	}

	if err := json.Unmarshal(output, &comparison); err != nil {
		return false, fmt.Errorf("failed to parse comparison: %w", err)
	}

	// Branch is merged if it has no commits ahead of target
	// (identical or behind means all changes are in target)
	return comparison.AheadBy == 0, nil
}

// CleanupMergedBranches deletes branches that have been merged to the target.
// It skips branches matching any of the protected patterns.
func (c *Client) CleanupMergedBranches(ctx context.Context, target string, protectedPatterns []string) ([]string, error) {
	if target == "" {
		target = DefaultBranch
	}

	branches, err := c.ListBranches(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for i := range branches {
		branch := &branches[i]
		// Skip protected branches
		if c.isProtected(branch.Name, protectedPatterns) {
			c.logger.Debug("Skipping protected branch: %s", branch.Name)
			continue
		}

		// Skip if branch is marked as protected in GitHub
		if branch.Protected {
			c.logger.Debug("Skipping GitHub-protected branch: %s", branch.Name)
			continue
		}

		// Check if merged
		merged, mergeErr := c.IsBranchMerged(ctx, branch.Name, target)
		if mergeErr != nil {
			c.logger.Warn("Failed to check if %s is merged: %v", branch.Name, mergeErr)
			continue
		}

		if merged {
			if delErr := c.DeleteBranch(ctx, branch.Name); delErr != nil {
				c.logger.Warn("Failed to delete merged branch %s: %v", branch.Name, delErr)
				continue
			}
			deleted = append(deleted, branch.Name)
		}
	}

	return deleted, nil
}

// isProtected checks if a branch name matches any protected pattern.
func (c *Client) isProtected(branch string, patterns []string) bool {
	for _, pattern := range patterns {
		// Use filepath.Match for glob-style matching
		matched, err := filepath.Match(pattern, branch)
		if err != nil {
			// If pattern is invalid, do exact match
			if branch == pattern {
				return true
			}
			continue
		}
		if matched {
			return true
		}

		// Also check for prefix match for patterns like "release/*"
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if strings.HasPrefix(branch, prefix+"/") {
				return true
			}
		}
	}
	return false
}
