package document

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Field is one label/value line of a PDF section.
type Field struct {
	Label string
	Value string
}

type Section struct {
	Heading string
	Fields  []Field
}

// PDF is a titled document of key/value sections followed by an optional table.
type PDF struct {
	Title    string
	Sections []Section
	Table    *Table
}

type Table struct {
	Heading string
	Columns []string
	Rows    [][]string
}

func (p PDF) Render() ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, p.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	for _, section := range p.Sections {
		if section.Heading != "" {
			m.AddRow(12,
				text.NewCol(12, section.Heading, props.Text{Size: 13, Style: fontstyle.Bold, Top: 3}),
			)
		}
		for _, field := range section.Fields {
			m.AddRow(7,
				text.NewCol(4, field.Label, props.Text{Size: 10, Style: fontstyle.Bold}),
				text.NewCol(8, field.Value, props.Text{Size: 10}),
			)
		}
	}

	if p.Table != nil && len(p.Table.Columns) > 0 {
		m.AddRow(12,
			text.NewCol(12, p.Table.Heading, props.Text{Size: 13, Style: fontstyle.Bold, Top: 3}),
		)
		width := max(1, 12/len(p.Table.Columns))
		header := make([]core.Col, 0, len(p.Table.Columns))
		for _, c := range p.Table.Columns {
			header = append(header, text.NewCol(width, c, props.Text{Size: 9, Style: fontstyle.Bold}))
		}
		m.AddRow(8, header...)
		for _, row := range p.Table.Rows {
			cells := make([]core.Col, 0, len(row))
			for _, v := range row {
				cells = append(cells, text.NewCol(width, v, props.Text{Size: 9}))
			}
			m.AddRow(7, cells...)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return doc.GetBytes(), nil
}
