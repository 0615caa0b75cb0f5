// internal/retention/disk.go
package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// UsageFunc devolve o percentual livre do volume que contém root.
type UsageFunc func(root string) (float64, error)

// FreePercent = espaço utilizável / total * 100 no volume do arquivo.
// Raiz inexistente conta como 100%: não há nada para limpar.
func FreePercent(root string) (float64, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 100, nil
		}
		return 0, fmt.Errorf("stat %s: %w", root, err)
	}

	u, err := disk.Usage(root)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", root, err)
	}
	if u.Total == 0 {
		return 100, nil
	}
	// Free no gopsutil já é o espaço disponível para usuário comum (Bavail)
	return float64(u.Free) / float64(u.Total) * 100, nil
}
