// Package prompts holds the bilingual prompt templates used by the
// generation pipelines. The variant is chosen by the locale captured on
// the job, not by any ambient request state.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ternarybob/forge/internal/i18n"
)

func isZH(locale string) bool {
	return locale == i18n.LocaleZH
}

// GaPair asks for genre/audience pairs describing a document
func GaPair(locale, content string, count int) string {
	if isZH(locale) {
		return fmt.Sprintf(`你是一位内容分析专家。阅读下面的文档片段，给出 %d 组「体裁/受众」组合，用于指导后续问题生成。
以 JSON 数组返回，每项形如 {"genre":{"title":"...","description":"..."},"audience":{"title":"...","description":"..."}}。

文档内容：
%s`, count, content)
	}
	return fmt.Sprintf(`You are a content analyst. Read the document excerpt below and propose %d genre/audience combinations to guide question generation.
Return a JSON array where each item looks like {"genre":{"title":"...","description":"..."},"audience":{"title":"...","description":"..."}}.

Document:
%s`, count, content)
}

// Question asks for questions grounded in a chunk
func Question(locale, content string, number int) string {
	if isZH(locale) {
		return fmt.Sprintf(`基于以下文本生成 %d 个可以由该文本直接回答的问题。
以 JSON 数组返回，每项为一个问题字符串。

文本：
%s`, number, content)
	}
	return fmt.Sprintf(`Generate %d questions that can be answered directly from the text below.
Return a JSON array of question strings.

Text:
%s`, number, content)
}

// QuestionWithGA adapts question generation to a genre and audience
func QuestionWithGA(locale, content string, number int, genreTitle, genreDesc, audienceTitle, audienceDesc string) string {
	if isZH(locale) {
		return fmt.Sprintf(`基于以下文本生成 %d 个问题，问题的风格应符合体裁「%s」（%s），并面向受众「%s」（%s）。
以 JSON 数组返回，每项为一个问题字符串。

文本：
%s`, number, genreTitle, genreDesc, audienceTitle, audienceDesc, content)
	}
	return fmt.Sprintf(`Generate %d questions from the text below. Match the genre "%s" (%s) and address the audience "%s" (%s).
Return a JSON array of question strings.

Text:
%s`, number, genreTitle, genreDesc, audienceTitle, audienceDesc, content)
}

// TagLabel asks the model to assign each question a tag from the forest
func TagLabel(locale string, questions []string, tagTree string) string {
	joined := strings.Join(questions, "\n")
	if isZH(locale) {
		return fmt.Sprintf(`下面是一个标签树（JSON）和一组问题。为每个问题从标签树中选择最合适的标签。
以 JSON 数组返回，每项形如 {"question":"...","label":"..."}。

标签树：
%s

问题列表：
%s`, tagTree, joined)
	}
	return fmt.Sprintf(`Below is a tag tree (JSON) and a list of questions. Pick the most suitable tag from the tree for each question.
Return a JSON array where each item looks like {"question":"...","label":"..."}.

Tag tree:
%s

Questions:
%s`, tagTree, joined)
}

// Answer asks for a grounded answer to one question
func Answer(locale, content, question string) string {
	if isZH(locale) {
		return fmt.Sprintf(`根据以下参考内容回答问题。答案必须忠于参考内容。

参考内容：
%s

问题：%s`, content, question)
	}
	return fmt.Sprintf(`Answer the question using only the reference content below. Stay faithful to the reference.

Reference:
%s

Question: %s`, content, question)
}

// AnswerWithGA asks for an answer styled for a genre/audience pair
func AnswerWithGA(locale, content, question, genreTitle, genreDesc, audienceTitle, audienceDesc string) string {
	if isZH(locale) {
		return fmt.Sprintf(`根据以下参考内容回答问题。回答风格应符合体裁「%s」（%s），并面向受众「%s」（%s）。答案必须忠于参考内容。

参考内容：
%s

问题：%s`, genreTitle, genreDesc, audienceTitle, audienceDesc, content, question)
	}
	return fmt.Sprintf(`Answer the question using only the reference content below. Write in the genre "%s" (%s) for the audience "%s" (%s). Stay faithful to the reference.

Reference:
%s

Question: %s`, genreTitle, genreDesc, audienceTitle, audienceDesc, content, question)
}

// CotOptimize asks the model to tighten a raw chain of thought
func CotOptimize(locale, question, answer, cot string) string {
	if isZH(locale) {
		return fmt.Sprintf(`下面是一个问题、它的答案和一段原始思考过程。请优化这段思考过程，使其简洁、连贯并与答案一致。只返回优化后的思考过程。

问题：%s
答案：%s
原始思考过程：
%s`, question, answer, cot)
	}
	return fmt.Sprintf(`Below is a question, its answer, and a raw chain of thought. Rewrite the chain of thought so it is concise, coherent, and consistent with the answer. Return only the rewritten chain of thought.

Question: %s
Answer: %s
Raw chain of thought:
%s`, question, answer, cot)
}

// TagRebuild asks for a fresh tag tree covering all catalogs
func TagRebuild(locale, catalogJSON string) string {
	if isZH(locale) {
		return fmt.Sprintf(`下面是一个项目全部文档的目录（JSON）。据此构建一个两层的标签树，用于给训练问题分类。
以 JSON 数组返回，每项形如 {"label":"...","children":[{"label":"..."}]}。

目录：
%s`, catalogJSON)
	}
	return fmt.Sprintf(`Below are the tables of contents of every document in a project (JSON). Build a two-level tag tree for classifying training questions.
Return a JSON array where each item looks like {"label":"...","children":[{"label":"..."}]}.

Contents:
%s`, catalogJSON)
}

// TagRevise asks for an incremental tag tree update given a TOC diff
func TagRevise(locale, currentTree, deletedContent, newContent string) string {
	if isZH(locale) {
		return fmt.Sprintf(`下面是当前的标签树（JSON）、被删除的目录条目和新增的目录条目。请在尽量保留现有标签的前提下修订标签树。
以 JSON 数组返回，格式与当前标签树相同。

当前标签树：
%s

删除的目录条目：
%s

新增的目录条目：
%s`, currentTree, deletedContent, newContent)
	}
	return fmt.Sprintf(`Below is the current tag tree (JSON), the table-of-contents entries that were removed, and the entries that were added. Revise the tree, preserving existing tags where possible.
Return a JSON array in the same format as the current tree.

Current tag tree:
%s

Removed entries:
%s

Added entries:
%s`, currentTree, deletedContent, newContent)
}
