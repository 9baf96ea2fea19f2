package pubmed

import "encoding/xml"

// SearchResult is the parsed result of an esearch query.
type SearchResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Summary is the subset of an esummary document the pipeline needs.
type Summary struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	PubDate  string `json:"pub_date"`  // As published, e.g. "2026 Oct 14"
	SortDate string `json:"sort_date"` // YYYY/MM/DD HH:MM
	DOI      string `json:"doi,omitempty"`
}

// esearchResponse is the JSON body returned by esearch.fcgi.
type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
		Error  string   `json:"ERROR"`
	} `json:"esearchresult"`
}

// esummaryDoc is one document in an esummary JSON response.
type esummaryDoc struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	PubDate     string `json:"pubdate"`
	SortPubDate string `json:"sortpubdate"`
	ArticleIDs  []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

// efetchResponse is the XML body returned by efetch.fcgi for db=pubmed.
type efetchResponse struct {
	XMLName  xml.Name `xml:"PubmedArticleSet"`
	Articles []struct {
		ELocationIDs []eLocationID `xml:"MedlineCitation>Article>ELocationID"`
	} `xml:"PubmedArticle"`
}

type eLocationID struct {
	Type  string `xml:"EIdType,attr"`
	Value string `xml:",chardata"`
}
