package workspace

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cchalm/applybot/internal/project"
)

func TestMemorySandbox_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(nil)

	err := sb.WriteFile(ctx, "/home/user/app/src/App.jsx", "app")
	require.NoError(t, err)
	content, err := sb.Read("/home/user/app/src/App.jsx")
	require.NoError(t, err)
	require.Equal(t, "app", content)
}

func TestMemorySandbox_WriteShadowsBase(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(map[string]string{"/home/user/app/src/App.jsx": "old"})

	err := sb.WriteFile(ctx, "/home/user/app/src/App.jsx", "new")
	require.NoError(t, err)
	content, err := sb.Read("/home/user/app/src/App.jsx")
	require.NoError(t, err)
	require.Equal(t, "new", content)
}

func TestMemorySandbox_ReadMissing(t *testing.T) {
	sb := NewMemorySandbox(nil)

	_, err := sb.Read("/nope")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestMemorySandbox_FailWrites(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(nil)
	cause := fmt.Errorf("disk full")
	sb.FailWrites("/home/user/app/src/Bad.jsx", cause)

	err := sb.WriteFile(ctx, "/home/user/app/src/Bad.jsx", "x")
	require.ErrorIs(t, err, cause)
	var we WriteError
	require.ErrorAs(t, err, &we)
	require.Equal(t, "/home/user/app/src/Bad.jsx", we.Path)
	require.True(t, sb.Changelist().IsEmpty())
}

func TestMemorySandbox_ListFilesAndChangelist(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(map[string]string{"/home/user/app/package.json": "{}"})

	require.NoError(t, sb.WriteFile(ctx, "/home/user/app/src/b.js", "b"))
	require.NoError(t, sb.WriteFile(ctx, "/home/user/app/src/a.js", "a"))

	files, err := sb.ListFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"/home/user/app/package.json", "/home/user/app/src/a.js", "/home/user/app/src/b.js"}, files)

	var visited []string
	err = sb.Changelist().ForEachModified(func(path string, content string) error {
		visited = append(visited, path)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/home/user/app/src/a.js", "/home/user/app/src/b.js"}, visited)
	require.True(t, sb.Changelist().IsModified("/home/user/app/src/a.js"))
	require.False(t, sb.Changelist().IsModified("/home/user/app/package.json"))
}

func TestMemorySandbox_Commands(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(nil)
	sb.SetCommandResult("npm test", CommandResult{ExitCode: 1, Stderr: "fail"})

	res, err := sb.RunCommand(ctx, "npm test")
	require.NoError(t, err)
	require.False(t, res.Succeeded())
	res, err = sb.RunCommand(ctx, "ls")
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.Equal(t, []string{"npm test", "ls"}, sb.Commands())
}

func TestSeedIndex(t *testing.T) {
	ctx := context.Background()
	sb := NewMemorySandbox(map[string]string{
		"/home/user/app/src/App.jsx":   "",
		"/home/user/app/package.json":  "",
		"/elsewhere/ignored.txt":       "",
		"/home/user/application/x.txt": "",
	})
	index := project.NewFileIndex()

	err := SeedIndex(ctx, sb, project.DefaultLayout(), index)
	require.NoError(t, err)
	require.Equal(t, []string{"package.json", "src/App.jsx"}, index.Paths())
}
