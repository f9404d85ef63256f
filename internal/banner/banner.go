package banner

import (
	"stressq/internal/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
       __                                 
  ___ / /_ _______  ___ ___ ___ _
 (_-</ __/ __/ -_)(_-<(_-</ _ '/
/___/\__/_/  \__//___/___/\_, / 
                           /_/  `

	return "\n" + style.Render(ascii) + "\n"
}
