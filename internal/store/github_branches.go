package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Linked branches have no REST surface; GitHub exposes them only through
// the GraphQL API. These queries are the store's native linking feature —
// the engine relies on them instead of free-text search, which goes stale
// the moment an issue body is edited.

const linkedBranchesQuery = `
query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    issue(number: $number) {
      linkedBranches(first: 50) {
        nodes { id ref { name } }
      }
    }
  }
}`

const createLinkedBranchMutation = `
mutation($issueID: ID!, $name: String!, $oid: GitObjectID!) {
  createLinkedBranch(input: {issueId: $issueID, name: $name, oid: $oid}) {
    linkedBranch { id ref { name } }
  }
}`

const issueNodeQuery = `
query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    issue(number: $number) { id }
  }
}`

// graphQL performs one GraphQL call with the same retry policy as REST.
func (g *GitHub) graphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload := map[string]interface{}{
		"query":     query,
		"variables": variables,
	}
	respBody, _, err := g.doRequest(ctx, http.MethodPost, g.GraphQLURL, payload)
	if err != nil {
		return err
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parse graphql envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse graphql data: %w", err)
		}
	}
	return nil
}

type linkedBranchNodes struct {
	Repository struct {
		Issue struct {
			LinkedBranches struct {
				Nodes []struct {
					ID  string `json:"id"`
					Ref struct {
						Name string `json:"name"`
					} `json:"ref"`
				} `json:"nodes"`
			} `json:"linkedBranches"`
		} `json:"issue"`
	} `json:"repository"`
}

// ListLinkedBranches returns the branches natively linked to an issue.
func (g *GitHub) ListLinkedBranches(ctx context.Context, number int) ([]LinkedBranch, error) {
	var data linkedBranchNodes
	err := g.graphQL(ctx, linkedBranchesQuery, map[string]interface{}{
		"owner":  g.Owner,
		"repo":   g.Repo,
		"number": number,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("list linked branches for #%d: %w", number, err)
	}
	var branches []LinkedBranch
	for _, n := range data.Repository.Issue.LinkedBranches.Nodes {
		branches = append(branches, LinkedBranch{ID: n.ID, Name: n.Ref.Name})
	}
	return branches, nil
}

// CreateLinkedBranch creates a branch from base and links it to the issue.
func (g *GitHub) CreateLinkedBranch(ctx context.Context, number int, name, base string) (*LinkedBranch, error) {
	issueID, err := g.issueNodeID(ctx, number)
	if err != nil {
		return nil, err
	}
	oid, err := g.branchHeadOID(ctx, base)
	if err != nil {
		return nil, err
	}
	var data struct {
		CreateLinkedBranch struct {
			LinkedBranch struct {
				ID  string `json:"id"`
				Ref struct {
					Name string `json:"name"`
				} `json:"ref"`
			} `json:"linkedBranch"`
		} `json:"createLinkedBranch"`
	}
	err = g.graphQL(ctx, createLinkedBranchMutation, map[string]interface{}{
		"issueID": issueID,
		"name":    name,
		"oid":     oid,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("create linked branch %s for #%d: %w", name, number, err)
	}
	lb := data.CreateLinkedBranch.LinkedBranch
	return &LinkedBranch{ID: lb.ID, Name: lb.Ref.Name}, nil
}

// issueNodeID resolves an issue number to its GraphQL node id.
func (g *GitHub) issueNodeID(ctx context.Context, number int) (string, error) {
	var data struct {
		Repository struct {
			Issue struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"repository"`
	}
	err := g.graphQL(ctx, issueNodeQuery, map[string]interface{}{
		"owner":  g.Owner,
		"repo":   g.Repo,
		"number": number,
	}, &data)
	if err != nil {
		return "", fmt.Errorf("resolve issue #%d node id: %w", number, err)
	}
	if data.Repository.Issue.ID == "" {
		return "", fmt.Errorf("resolve issue #%d node id: %w", number, ErrNotFound)
	}
	return data.Repository.Issue.ID, nil
}

// branchHeadOID returns the commit OID at the tip of a branch via REST.
func (g *GitHub) branchHeadOID(ctx context.Context, branch string) (string, error) {
	urlStr := g.buildURL("/repos/"+g.repoPath()+"/git/ref/heads/"+branch, nil)
	respBody, _, err := g.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", fmt.Errorf("resolve branch %s head: %w", branch, err)
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal(respBody, &ref); err != nil {
		return "", fmt.Errorf("parse ref response: %w", err)
	}
	return ref.Object.SHA, nil
}
