package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"hermannm.dev/pivot/pivot"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func (app *app) renderCatalog(output io.Writer, catalog pivot.Catalog) error {
	if app.format == formatJSON {
		return renderJSON(output, catalog)
	}

	descriptors := make([]pivot.FilterDescriptor, 0, len(catalog.Dimensions))
	for _, dimension := range catalog.Dimensions {
		descriptors = append(descriptors, pivot.FilterDescriptor{
			Field:   dimension.ID,
			Label:   dimension.Label,
			Options: dimension.Values,
		})
	}
	app.regions.Lock(descriptors)

	dimensions := newTable(output)
	dimensions.SetTitle("Dimensions")
	dimensions.AppendHeader(table.Row{"ID", "Label", "Type", "Filterable", "Values"})
	for i, dimension := range catalog.Dimensions {
		values := dimension.ValuesEndpoint
		if len(dimension.Values) != 0 {
			values = fmt.Sprintf("%d inline", len(dimension.Values))
		}

		filterable := "no"
		switch {
		case descriptors[i].Locked:
			filterable = fmt.Sprintf("locked to %s", app.regions.Name())
		case dimension.Filterable:
			filterable = "yes"
		}

		dimensions.AppendRow(table.Row{
			dimension.ID,
			dimension.Label,
			dimension.Type.String(),
			filterable,
			values,
		})
	}
	dimensions.Render()

	measures := newTable(output)
	measures.SetTitle("Measures")
	measures.AppendHeader(table.Row{"ID", "Label", "Default aggregation", "Description"})
	for _, measure := range catalog.Measures {
		measures.AppendRow(table.Row{
			measure.ID,
			measure.Label,
			measure.DefaultAggregation.String(),
			measure.Description,
		})
	}
	measures.Render()

	if !catalog.UpdatedAt.IsZero() {
		fmt.Fprintf(output, "Updated %s\n", catalog.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (app *app) renderQueryResult(output io.Writer, res pivot.QueryResponse) error {
	if app.format == formatJSON {
		return renderJSON(output, res)
	}

	result := res.Result
	columns := make([]string, 0, len(result.Metadata.SelectedDimensions)+len(result.Metadata.SelectedMeasures))
	columns = append(columns, result.Metadata.SelectedDimensions...)
	columns = append(columns, result.Metadata.SelectedMeasures...)

	if len(result.Data) == 0 {
		fmt.Fprintln(output, "(0 rows)")
		return nil
	}

	writer := newTable(output)
	header := make(table.Row, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	writer.AppendHeader(header)

	for _, data := range result.Data {
		row := make(table.Row, len(columns))
		for i, column := range columns {
			row[i] = formatValue(data[column])
		}
		writer.AppendRow(row)
	}

	if result.GrandTotal != nil {
		footer := make(table.Row, len(columns))
		dimensionCount := len(result.Metadata.SelectedDimensions)
		for i, column := range columns {
			if i < dimensionCount {
				footer[i] = ""
			} else {
				footer[i] = formatValue(result.GrandTotal[column])
			}
		}
		if dimensionCount != 0 {
			footer[0] = "Total"
		}
		writer.AppendFooter(footer)
	}

	writer.Render()
	fmt.Fprintf(output, "(%d rows, periods %v)\n", len(result.Data), result.Periods)
	return nil
}

func (app *app) renderValues(output io.Writer, values pivot.DimensionValues) error {
	if app.format == formatJSON {
		return renderJSON(output, values)
	}

	if len(values.Values) == 0 {
		fmt.Fprintln(output, "(no values)")
		return nil
	}

	writer := newTable(output)
	writer.AppendHeader(table.Row{"Value", "Label"})
	for _, option := range values.Values {
		writer.AppendRow(table.Row{formatValue(option.Value), option.Label})
	}
	writer.Render()
	return nil
}

func printQueryError(output io.Writer, err *pivot.QueryError) {
	fmt.Fprintf(output, "%s\n%s\n", err.Title, err.Message)
	if wait, ok := err.RetryAfter(); ok {
		fmt.Fprintf(output, "You can try again in %d seconds.\n", int(wait.Seconds()))
	}
}

func newTable(output io.Writer) table.Writer {
	writer := table.NewWriter()
	writer.SetOutputMirror(output)
	writer.SetStyle(table.StyleLight)
	return writer
}

func renderJSON(output io.Writer, value any) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func formatValue(value any) string {
	switch value := value.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}
