package workspace

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v72/github"

	"github.com/cchalm/applybot/internal/project"
)

// TemplateRepo is a GitHub repository whose tree the sandbox project was created from. Its files are
// known to exist before the first apply.
type TemplateRepo struct {
	git   *github.GitService
	owner string
	repo  string
	ref   string
}

func NewTemplateRepo(git *github.GitService, owner, repo, ref string) TemplateRepo {
	return TemplateRepo{
		git:   git,
		owner: owner,
		repo:  repo,
		ref:   ref,
	}
}

// Files lists every file path in the template at its ref
func (tr TemplateRepo) Files(ctx context.Context) ([]string, error) {
	tree, resp, err := tr.git.GetTree(ctx, tr.owner, tr.repo, tr.ref, true)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("template %s/%s@%s: %w", tr.owner, tr.repo, tr.ref, ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to get template tree: %w", err)
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("template tree for %s/%s is too large to list", tr.owner, tr.repo)
	}

	var files []string
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			files = append(files, entry.GetPath())
		}
	}
	return files, nil
}

// SeedIndex adds the template's files to index
func (tr TemplateRepo) SeedIndex(ctx context.Context, index *project.FileIndex) error {
	files, err := tr.Files(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		index.Add(f)
	}
	return nil
}
